// SPDX-License-Identifier: MIT

package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"

	"github.com/evan-goode/evkvm/logger"
	"github.com/evan-goode/evkvm/ratelimiter"
)

// Listener wraps a TLS listener with per-source-address rate limiting on
// the handshake attempt itself, gating before TLS negotiation so a
// source hammering a rejected fingerprint cannot burn accept-loop
// cycles forever.
type Listener struct {
	inner net.Listener
	tls   *tls.Config
	rl    ratelimiter.Ratelimiter
	log   *logger.Logger
}

// Listen binds address and wraps it for TLS accept with fingerprint
// pinning per tlsConfig (see ServerTLSConfig).
func Listen(address string, tlsConfig *tls.Config, log *logger.Logger) (*Listener, error) {
	inner, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", address, err)
	}
	l := &Listener{inner: inner, tls: tlsConfig, log: log}
	l.rl.Init()
	return l, nil
}

// Accept blocks for the next inbound connection whose source address
// passes the rate limiter, performs the TLS handshake, and returns the
// established connection. Rate-limited and handshake-failed connections
// are closed and skipped transparently; Accept only returns on a real
// listener error or success.
func (l *Listener) Accept() (*tls.Conn, error) {
	for {
		raw, err := l.inner.Accept()
		if err != nil {
			return nil, fmt.Errorf("transport: accept: %w", err)
		}

		addr, ok := addrFromConn(raw)
		if ok && !l.rl.Allow(addr) {
			raw.Close()
			continue
		}

		conn := tls.Server(raw, l.tls)
		if err := conn.Handshake(); err != nil {
			l.log.Verbosef("transport: handshake from %s failed: %v", raw.RemoteAddr(), err)
			conn.Close()
			continue
		}
		return conn, nil
	}
}

func addrFromConn(conn net.Conn) (netip.Addr, bool) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// Close releases the listening socket and the rate limiter's resources.
func (l *Listener) Close() error {
	l.rl.Close()
	return l.inner.Close()
}

// Dial connects to address and blocks until the TLS handshake completes.
// tlsConfig's ServerName (set by ClientTLSConfig) drives SNI.
func Dial(address string, tlsConfig *tls.Config) (*tls.Conn, error) {
	conn, err := tls.Dial("tcp", address, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}
	return conn, nil
}
