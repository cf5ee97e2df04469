// SPDX-License-Identifier: MIT

// Package server implements the server loop (C8): the capturing side's
// listening socket. Each accepted connection becomes a peer task that
// performs the version handshake, drains the current device table as
// NewDevice messages, then serves its bounded outbound queue until the
// peer disconnects or a write times out.
package server

import (
	"crypto/tls"
	"errors"
	"time"

	"github.com/evan-goode/evkvm/logger"
	"github.com/evan-goode/evkvm/switcher"
	"github.com/evan-goode/evkvm/transport"
	"github.com/evan-goode/evkvm/wire"
)

var errPeerClosed = errors.New("server: peer closed")

// Server owns the listening socket and the switch controller that
// routes outgoing events to whichever peer is currently selected.
type Server struct {
	listener *transport.Listener
	switcher *switcher.Switcher
	snapshot func() []wire.Device
	nicks    map[string]string // fingerprint -> configured nick
	log      *logger.Logger
}

// New constructs a Server. snapshot is called once per accepted peer to
// obtain every currently-known device before any live event is sent to
// it — typically capture.Manager.Snapshot. nicks maps a receiver's
// configured fingerprint to its nick, so accepted peers can be logged by
// name instead of bare socket address; a fingerprint absent from nicks
// falls back to the remote address.
func New(listener *transport.Listener, sw *switcher.Switcher, nicks map[string]string, snapshot func() []wire.Device, log *logger.Logger) *Server {
	return &Server{listener: listener, switcher: sw, snapshot: snapshot, nicks: nicks, log: log}
}

// Run accepts connections until the listener fails and returns that
// error to the caller (an accept failure is not a per-peer concern). A
// single peer's failure never reaches this return value.
func (s *Server) Run() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn *tls.Conn) {
	nick := s.peerNick(conn)

	if err := wire.WriteVersion(conn); err != nil {
		s.log.Verbosef("server[%s]: write version: %v", nick, err)
		conn.Close()
		return
	}
	if err := wire.ReadVersion(conn); err != nil {
		s.log.Verbosef("server[%s]: peer version handshake failed: %v", nick, err)
		conn.Close()
		return
	}

	peer := newPeer(nick, conn, s.log)
	index := s.switcher.AddClient(peer, s.snapshot)
	s.log.Verbosef("server[%s]: connected", nick)

	peer.run()
	s.switcher.RemoveClient(index)
}

// peerNick resolves the connecting client's configured nick from its
// certificate fingerprint, falling back to its remote address when the
// fingerprint carries no configured nick (or none could be observed).
func (s *Server) peerNick(conn *tls.Conn) string {
	if fp, err := transport.ObservedFingerprint(conn); err == nil {
		if nick, ok := s.nicks[fp]; ok && nick != "" {
			return nick
		}
	}
	return conn.RemoteAddr().String()
}

// peer is one accepted, handshaked connection: a bounded outbound queue
// drained by its own writer loop, which also transmits a KeepAlive when
// idle for half the message timeout.
type peer struct {
	nick string
	conn *tls.Conn
	out  chan wire.Message
	done chan struct{}
	log  *logger.Logger
}

func newPeer(nick string, conn *tls.Conn, log *logger.Logger) *peer {
	return &peer{
		nick: nick,
		conn: conn,
		out:  make(chan wire.Message, 64),
		done: make(chan struct{}),
		log:  log,
	}
}

// Send implements switcher.Target: it blocks until the message is queued
// or the peer's connection has already ended.
func (p *peer) Send(msg wire.Message) error {
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return errPeerClosed
	}
}

func (p *peer) run() {
	defer close(p.done)
	defer p.conn.Close()

	for {
		select {
		case msg := <-p.out:
			if err := p.write(msg); err != nil {
				p.log.Verbosef("server[%s]: write failed, disconnecting: %v", p.nick, err)
				return
			}
		case <-time.After(transport.KeepAliveInterval):
			if err := p.write(wire.KeepAliveMessage()); err != nil {
				p.log.Verbosef("server[%s]: keepalive failed, disconnecting: %v", p.nick, err)
				return
			}
		}
	}
}

func (p *peer) write(msg wire.Message) error {
	p.conn.SetWriteDeadline(time.Now().Add(transport.MessageTimeout))
	return wire.WriteMessage(p.conn, msg)
}
