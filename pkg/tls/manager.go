package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Manager loads the local Auth's own TLS client identity and builds the
// *http.Client the federation client uses to dial peer Auths.
type Manager struct {
	certManager *CertificateManager
}

// NewManager returns a Manager backed by cm's trust pool.
func NewManager(cm *CertificateManager) *Manager {
	return &Manager{certManager: cm}
}

// LoadClientCertificate loads this Auth's own certificate/key pair, used to
// authenticate to a peer Auth as a TLS client during federation.
func (m *Manager) LoadClientCertificate(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tls: loading client key pair: %w", err)
	}
	return cert, nil
}

// LoadRootCA reads a PEM file and adds its certificates to the trust pool.
func (m *Manager) LoadRootCA(caFile string) error {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return fmt.Errorf("tls: reading root CA file: %w", err)
	}
	return m.certManager.AddRootCA(pem)
}

// ocspClientTimeout bounds the OCSP responder round trip during the
// handshake's VerifyConnection hook so a slow or unreachable responder
// cannot hang the dial indefinitely.
const ocspClientTimeout = 5 * time.Second

// ClientConfig builds the *tls.Config used to dial a peer Auth: presents
// clientCert as this Auth's identity, pins expectedServerName (the peer's
// TLS identity from its TrustedAuth record) for SNI/hostname checks, and
// installs a VerifyConnection hook that runs chain+OCSP verification via
// CertificateManager.VerifyCertificate and, when expectedThumbprint is
// non-empty, pins the peer's certificate thumbprint — since a TrustedAuth
// record identifies a peer by thumbprint, not just by hostname. With an empty
// expectedThumbprint no thumbprint check runs.
func (m *Manager) ClientConfig(clientCert tls.Certificate, expectedServerName, expectedThumbprint string) *tls.Config {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      m.certManager.CertPool(),
		ServerName:   expectedServerName,
		MinVersion:   tls.VersionTLS12,
	}
	cfg.VerifyConnection = func(state tls.ConnectionState) error {
		if len(state.PeerCertificates) == 0 {
			return fmt.Errorf("tls: no peer certificates presented")
		}
		leaf := state.PeerCertificates[0]
		var issuer *x509.Certificate
		if len(state.PeerCertificates) > 1 {
			issuer = state.PeerCertificates[1]
		}
		ocspClient := &http.Client{Timeout: ocspClientTimeout}
		if err := m.certManager.VerifyCertificate(leaf, issuer, ocspClient); err != nil {
			return err
		}
		if expectedThumbprint != "" {
			return m.certManager.VerifyPeerThumbprint(state.PeerCertificates, expectedThumbprint)
		}
		return nil
	}
	return cfg
}

// HTTPClient builds the *http.Client the federation client should use: a
// dedicated transport carrying the mTLS config and a request timeout, so one
// slow/unreachable peer Auth cannot hang a session-key request forever.
func (m *Manager) HTTPClient(clientCert tls.Certificate, expectedServerName, expectedThumbprint string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: m.ClientConfig(clientCert, expectedServerName, expectedThumbprint),
		},
	}
}
