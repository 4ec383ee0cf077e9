package keys

import (
	"bytes"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/qsbridge/bridgehub/pkg/keys"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func execCommand(action func(*cli.Context) error, args map[string]string) (string, error) {
	set := flag.NewFlagSet("flagSet", flag.ExitOnError)
	for k, v := range args {
		set.String(k, v, "")
	}
	app := cli.NewApp()
	var out bytes.Buffer
	app.Writer = &out
	err := action(cli.NewContext(app, set, nil))
	return out.String(), err
}

func TestGenerateAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")

	out, err := execCommand(generate, map[string]string{
		"file":   path,
		"hub-id": "hub-main",
		"kid":    "2026-08",
	})
	require.NoError(t, err)
	require.Contains(t, out, path)

	// The file round-trips through the loader.
	hk, err := keys.Load(path)
	require.NoError(t, err)
	require.Equal(t, "hub-main", hk.HubID)
	require.Equal(t, "2026-08", hk.Current.Kid)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err = execCommand(show, map[string]string{"file": path})
	require.NoError(t, err)
	var view keys.PublicView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Equal(t, "hub-main", view.HubID)
	require.Equal(t, "2026-08", view.Current.Kid)
	require.NotEmpty(t, view.Current.Fingerprint)
	require.NotContains(t, out, "PRIVATE KEY")
}

func TestGenerateErrors(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		_, err := execCommand(generate, map[string]string{"hub-id": "x"})
		require.Error(t, err)
	})
	t.Run("no hub id", func(t *testing.T) {
		_, err := execCommand(generate, map[string]string{"file": filepath.Join(t.TempDir(), "k.json")})
		require.Error(t, err)
	})
	t.Run("refuses overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keys.json")
		_, err := execCommand(generate, map[string]string{"file": path, "hub-id": "x"})
		require.NoError(t, err)
		_, err = execCommand(generate, map[string]string{"file": path, "hub-id": "x"})
		require.ErrorContains(t, err, "refusing to overwrite")
	})
}

func TestShowErrors(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		_, err := execCommand(show, map[string]string{})
		require.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := execCommand(show, map[string]string{"file": filepath.Join(t.TempDir(), "absent.json")})
		require.Error(t, err)
	})
}
