// SPDX-License-Identifier: MIT

// Package client implements the client loop (C9): one supervisor
// coroutine per configured outbound peer, each independently
// connecting, handshaking, and reading the message stream into a
// writer manager until EOF, error, or read timeout, then retrying after
// a fixed backoff.
package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/evan-goode/evkvm/inject"
	"github.com/evan-goode/evkvm/logger"
	"github.com/evan-goode/evkvm/transport"
	"github.com/evan-goode/evkvm/wire"
)

// reconnectBackoff is the fixed pause between a failed session and the
// next connection attempt.
const reconnectBackoff = time.Second

// Supervisor owns one outbound peer's reconnect loop and the writer
// manager its received messages are applied to.
type Supervisor struct {
	nick      string
	address   string
	tlsConfig *tls.Config
	manager   *inject.Manager
	log       *logger.Logger
}

// New constructs a supervisor for one configured sender. tlsConfig
// should come from transport.ClientTLSConfig with that sender's
// expected fingerprint (if any) already baked in.
func New(nick, address string, tlsConfig *tls.Config, manager *inject.Manager, log *logger.Logger) *Supervisor {
	return &Supervisor{nick: nick, address: address, tlsConfig: tlsConfig, manager: manager, log: log}
}

// Run loops session attempts until stop is closed. Consecutive identical
// error strings are logged starting from their second occurrence, not
// their first, so a persistent disconnect does not spam the log once
// per reconnect attempt.
func (s *Supervisor) Run(stop <-chan struct{}) {
	var lastErr string
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := s.session(stop); err != nil {
			msg := err.Error()
			if msg == lastErr {
				s.log.Errorf("client[%s]: %v", s.nick, err)
			}
			lastErr = msg
		} else {
			lastErr = ""
		}

		select {
		case <-stop:
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (s *Supervisor) session(stop <-chan struct{}) error {
	conn, err := transport.Dial(s.address, s.tlsConfig)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.WriteVersion(conn); err != nil {
		return fmt.Errorf("client[%s]: write version: %w", s.nick, err)
	}
	if err := wire.ReadVersion(conn); err != nil {
		return fmt.Errorf("client[%s]: version handshake: %w", s.nick, err)
	}

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(transport.MessageTimeout))
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			if errors.Is(err, wire.ErrClosed) {
				return nil
			}
			return fmt.Errorf("client[%s]: read: %w", s.nick, err)
		}

		if err := s.manager.Apply(msg); err != nil {
			s.log.Errorf("client[%s]: apply message: %v", s.nick, err)
		}
	}
}
