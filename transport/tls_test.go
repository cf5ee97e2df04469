// SPDX-License-Identifier: MIT

package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evan-goode/evkvm/identity"
)

// clientCert returns a throwaway certificate+key pair for the local side
// of the handshake; the tests below only exercise VerifyPeerCertificate
// against a separately generated peer certificate, not a live handshake.
func clientCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func selfSignedCert(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestClientVerifyRejectsWhenNoFingerprintConfigured(t *testing.T) {
	cert := selfSignedCert(t)
	cfg := ClientTLSConfig(clientCert(t), "localhost", "")
	require.ErrorIs(t, cfg.VerifyPeerCertificate([][]byte{cert.Raw}, nil), ErrFingerprintMismatch)
}

func TestClientVerifyAcceptsOnMatch(t *testing.T) {
	cert := selfSignedCert(t)
	fp := identity.Fingerprint(cert)
	cfg := ClientTLSConfig(clientCert(t), "localhost", fp)
	require.NoError(t, cfg.VerifyPeerCertificate([][]byte{cert.Raw}, nil))
}

func TestClientVerifyRejectsOnMismatch(t *testing.T) {
	cert := selfSignedCert(t)
	cfg := ClientTLSConfig(clientCert(t), "localhost", "0000000000000000000000000000000000000000000000000000000000000000")
	err := cfg.VerifyPeerCertificate([][]byte{cert.Raw}, nil)
	require.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestServerVerifyAcceptsKnownFingerprint(t *testing.T) {
	cert := selfSignedCert(t)
	fp := identity.Fingerprint(cert)
	cfg := ServerTLSConfig(clientCert(t), []string{fp})
	require.NoError(t, cfg.VerifyPeerCertificate([][]byte{cert.Raw}, nil))
}

func TestServerVerifyRejectsUnknownFingerprint(t *testing.T) {
	cert := selfSignedCert(t)
	cfg := ServerTLSConfig(clientCert(t), nil)
	err := cfg.VerifyPeerCertificate([][]byte{cert.Raw}, nil)
	require.ErrorIs(t, err, ErrFingerprintMismatch)
}
