// SPDX-License-Identifier: MIT

// Package transport implements the TLS session (C6): mutual certificate
// authentication pinned by SHA-256 end-entity fingerprint rather than
// full chain validation, plus the message-timeout/keepalive constants
// the server and client loops are built around.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/evan-goode/evkvm/identity"
)

// MessageTimeout bounds every outbound frame write and every inbound
// read; a violation is fatal to the session and triggers reconnect on
// the client side. KeepAliveInterval, half of it, is how often the
// server loop transmits a KeepAlive when no real event is pending.
const (
	MessageTimeout    = 10 * time.Second
	KeepAliveInterval = MessageTimeout / 2
)

// ErrFingerprintMismatch is returned by the verification callbacks when
// a peer's certificate fingerprint does not match what was configured,
// or when no fingerprint was configured for an outbound peer.
var ErrFingerprintMismatch = errors.New("transport: certificate fingerprint mismatch")

// ServerTLSConfig builds the listener-side TLS configuration: client
// certificates are mandatory, and a connection is accepted iff the
// client's end-entity fingerprint is in acceptedFingerprints. No chain
// validation beyond that pin is performed.
func ServerTLSConfig(cert tls.Certificate, acceptedFingerprints []string) *tls.Config {
	accepted := make(map[string]bool, len(acceptedFingerprints))
	for _, fp := range acceptedFingerprints {
		accepted[fp] = true
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAnyClientCert,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			leaf, err := leafCertificate(rawCerts)
			if err != nil {
				return err
			}
			if !accepted[identity.Fingerprint(leaf)] {
				return ErrFingerprintMismatch
			}
			return nil
		},
	}
}

// ClientTLSConfig builds the dialer-side TLS configuration. expected is
// the configured fingerprint for this peer. The server's certificate is
// accepted iff expected is non-empty and equals its fingerprint; an
// empty expected fingerprint rejects every server.
func ClientTLSConfig(cert tls.Certificate, serverName, expected string) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ServerName:         serverName,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			leaf, err := leafCertificate(rawCerts)
			if err != nil {
				return err
			}
			actual := identity.Fingerprint(leaf)
			if expected == "" || expected != actual {
				return ErrFingerprintMismatch
			}
			return nil
		},
	}
}

func leafCertificate(rawCerts [][]byte) (*x509.Certificate, error) {
	if len(rawCerts) == 0 {
		return nil, fmt.Errorf("transport: peer presented no certificate")
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return nil, fmt.Errorf("transport: parse peer certificate: %w", err)
	}
	return leaf, nil
}

// ObservedFingerprint returns the fingerprint of the peer certificate a
// completed *tls.Conn presented, for trust-on-first-use logging.
func ObservedFingerprint(conn *tls.Conn) (string, error) {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", fmt.Errorf("transport: no peer certificate on established connection")
	}
	return identity.Fingerprint(state.PeerCertificates[0]), nil
}
