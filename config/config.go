// SPDX-License-Identifier: MIT

// Package config decodes the TOML configuration recognized by the
// session: listen address, switch-key set, identity path, and the
// sender/receiver peer lists. Locating the config file and parsing CLI
// flags belong to an external collaborator; this package only owns the
// struct shape and a thin Load helper over it.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const DefaultPort uint16 = 5258

// Sender is one outbound peer this session connects to as a client.
type Sender struct {
	Nick        string `toml:"nick"`
	Address     string `toml:"address"`
	Port        uint16 `toml:"port"`
	Fingerprint string `toml:"fingerprint"`
}

// Receiver is one inbound peer this session, acting as a server, accepts
// connections from.
type Receiver struct {
	Nick        string `toml:"nick"`
	Fingerprint string `toml:"fingerprint"`
}

// Config is the full recognized configuration surface.
type Config struct {
	ListenAddress string     `toml:"listen-address"`
	SwitchKeys    []string   `toml:"switch-keys"`
	IdentityPath  string     `toml:"identity-path"`
	Senders       []Sender   `toml:"senders"`
	Receivers     []Receiver `toml:"receivers"`
}

// defaults mirrors the built-in base configuration merged under any
// user-supplied file: listen on every interface on the default port,
// switch with both alt keys, no peers configured.
func defaults() Config {
	return Config{
		ListenAddress: fmt.Sprintf("0.0.0.0:%d", DefaultPort),
		SwitchKeys:    []string{"LeftAlt", "RightAlt"},
		IdentityPath:  "/var/lib/evkvm/identity.pem",
		Senders:       []Sender{},
		Receivers:     []Receiver{},
	}
}

// Load reads and decodes path over the built-in defaults, then fills in
// each sender's port when omitted.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	for i := range cfg.Senders {
		if cfg.Senders[i].Port == 0 {
			cfg.Senders[i].Port = DefaultPort
		}
	}

	return &cfg, nil
}
