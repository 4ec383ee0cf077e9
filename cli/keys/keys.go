// Package keys implements the `bridgehub keys` command for inspecting and
// bootstrapping hub key files.
package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/qsbridge/bridgehub/cli/cmdargs"
	"github.com/qsbridge/bridgehub/pkg/keys"
	"github.com/urfave/cli"
)

var errNoPath = errors.New("no keys file given, use the '--file' flag")

var fileFlag = cli.StringFlag{
	Name:  "file, f",
	Usage: "path to the hub keys file",
}

// NewCommands returns 'keys' command.
func NewCommands() []cli.Command {
	return []cli.Command{{
		Name:  "keys",
		Usage: "inspect and bootstrap hub key files",
		Subcommands: []cli.Command{
			{
				Name:   "show",
				Usage:  "print the public view of a hub keys file",
				Action: show,
				Flags:  []cli.Flag{fileFlag},
			},
			{
				Name:   "generate",
				Usage:  "generate a fresh Ed25519 hub keys file",
				Action: generate,
				Flags: []cli.Flag{
					fileFlag,
					cli.StringFlag{
						Name:  "hub-id",
						Usage: "hub identifier stored in the keys file",
					},
					cli.StringFlag{
						Name:  "kid",
						Usage: "key id of the generated pair (defaults to the current year-month)",
					},
				},
			},
		},
	}}
}

func show(ctx *cli.Context) error {
	if err := cmdargs.EnsureNone(ctx); err != nil {
		return err
	}
	path := ctx.String("file")
	if path == "" {
		return cli.NewExitError(errNoPath, 1)
	}
	hk, err := keys.Load(path)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	data, err := json.MarshalIndent(hk.PublicView(), "", "  ")
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, string(data))
	return nil
}

func generate(ctx *cli.Context) error {
	if err := cmdargs.EnsureNone(ctx); err != nil {
		return err
	}
	var (
		path  = ctx.String("file")
		hubID = ctx.String("hub-id")
		kid   = ctx.String("kid")
	)
	if path == "" {
		return cli.NewExitError(errNoPath, 1)
	}
	if hubID == "" {
		return cli.NewExitError(errors.New("no hub id given, use the '--hub-id' flag"), 1)
	}
	if kid == "" {
		kid = time.Now().UTC().Format("2006-01")
	}
	if _, err := os.Stat(path); err == nil {
		return cli.NewExitError(fmt.Errorf("%s already exists, refusing to overwrite", path), 1)
	}
	data, err := keys.Generate(hubID, kid)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(ctx.App.Writer, "keys file written to %s (hubId %s, kid %s)\n", path, hubID, kid)
	return nil
}
