package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geanlabs/gravity/config"
	"github.com/geanlabs/gravity/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	flagForce = false
	err := rootCmd.Execute()
	return out.String(), err
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gravity.yaml")
	_, err := execute(t, "init", "--out", path, "--bridge-id", "0xabcd")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "0xabcd", cfg.BridgeID)

	_, err = execute(t, "init", "--out", path)
	require.Error(t, err)
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()
	for _, scheme := range []string{"ecdsa", "ed25519"} {
		out, err := execute(t, "keygen", "--scheme", scheme, "--out", filepath.Join(dir, scheme+".key"))
		require.NoError(t, err)
		_, err = types.ParseAddress(strings.TrimSpace(out))
		require.NoError(t, err, scheme)
	}
}
