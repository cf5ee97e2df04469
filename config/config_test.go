// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `switch-keys = ["LeftCtrl", "RightCtrl"]`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"LeftCtrl", "RightCtrl"}, cfg.SwitchKeys)
	// listen-address and identity-path fall back to the built-in defaults.
	require.Equal(t, "0.0.0.0:5258", cfg.ListenAddress)
	require.NotEmpty(t, cfg.IdentityPath)
}

func TestLoadFillsInDefaultSenderPort(t *testing.T) {
	path := writeConfig(t, `
[[senders]]
address = "example.com"
fingerprint = "abc"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Senders, 1)
	require.Equal(t, DefaultPort, cfg.Senders[0].Port)
}

func TestLoadPreservesExplicitSenderPort(t *testing.T) {
	path := writeConfig(t, `
[[senders]]
address = "example.com"
port = 9000
fingerprint = "abc"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint16(9000), cfg.Senders[0].Port)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
