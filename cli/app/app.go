package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/qsbridge/bridgehub/cli/keys"
	"github.com/qsbridge/bridgehub/cli/server"
	"github.com/qsbridge/bridgehub/pkg/config"
	"github.com/urfave/cli"
)

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "BridgeHub\nVersion: %s\nGoVersion: %s\n",
		config.Version,
		runtime.Version(),
	)
}

// New creates a BridgeHub instance of [cli.App] with all commands included.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	ctl := cli.NewApp()
	ctl.Name = "bridgehub"
	ctl.Version = config.Version
	ctl.Usage = "Oracle hub for the Solana/Qubic bridge"
	ctl.ErrWriter = os.Stdout

	ctl.Commands = append(ctl.Commands, server.NewCommands()...)
	ctl.Commands = append(ctl.Commands, keys.NewCommands()...)
	return ctl
}
