// Package tls manages the TLS identities used for the one external-facing
// connection this core actually drives itself: the outbound, mutually
// authenticated HTTPS call to a peer Auth made by the federation client.
// Entity-facing connections are a plain TCP wire protocol (see pkg/wire) and
// are not TLS at all.
package tls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	authcrypto "authcore/pkg/crypto"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"
)

// CertificateManager tracks the set of root CAs this Auth trusts when
// dialing peer Auths, and performs the identity checks federation requires.
type CertificateManager struct {
	certPool *x509.CertPool
	log      *logrus.Entry
}

// NewCertificateManager returns a CertificateManager with an empty trust
// pool; callers add roots with AddRootCA before dialing any peer.
func NewCertificateManager(log *logrus.Entry) *CertificateManager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CertificateManager{certPool: x509.NewCertPool(), log: log}
}

// CertPool exposes the trust pool so callers can build a *tls.Config.
func (cm *CertificateManager) CertPool() *x509.CertPool {
	return cm.certPool
}

// AddRootCA appends a PEM-encoded CA certificate to the trust pool.
func (cm *CertificateManager) AddRootCA(certPEM []byte) error {
	if ok := cm.certPool.AppendCertsFromPEM(certPEM); !ok {
		return fmt.Errorf("tls: failed to append root CA certificate")
	}
	return nil
}

// CalculateThumbprint returns the hex-encoded SHA-256 digest of cert's raw
// DER bytes, used to pin a peer Auth's expected identity in its TrustedAuth
// record.
func (cm *CertificateManager) CalculateThumbprint(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(hash[:])
}

// VerifyCertificate checks cert against the trust pool and its own validity
// window. If httpClient is non-nil and cert names an OCSP responder, a
// best-effort revocation check also runs; a responder that can't be reached
// is logged and does not by itself fail verification, since OCSP
// availability is outside this Auth's control — only an explicit "revoked"
// response does.
func (cm *CertificateManager) VerifyCertificate(cert *x509.Certificate, issuer *x509.Certificate, httpClient *http.Client) error {
	opts := x509.VerifyOptions{
		Roots:       cm.certPool,
		CurrentTime: time.Now(),
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("tls: certificate chain verification failed: %w", err)
	}

	if time.Now().Before(cert.NotBefore) {
		return fmt.Errorf("tls: certificate is not yet valid")
	}
	if time.Now().After(cert.NotAfter) {
		return fmt.Errorf("tls: certificate has expired")
	}

	if httpClient != nil && issuer != nil {
		resp, err := authcrypto.CheckCertificateRevocation(httpClient, cert, issuer)
		if err != nil {
			cm.log.WithError(err).Debug("OCSP revocation check unavailable, proceeding on chain validity alone")
		} else if resp.Status == ocsp.Revoked {
			return fmt.Errorf("tls: certificate was revoked at %s", resp.RevokedAt)
		}
	}

	return nil
}

// VerifyPeerThumbprint checks that the leaf of a presented certificate chain
// matches expectedThumbprint — the TLS identity pinned in a TrustedAuth
// record — on top of ordinary chain validation. It is meant to be called
// from a tls.Config.VerifyConnection hook during the federation client's
// handshake with a peer Auth.
func (cm *CertificateManager) VerifyPeerThumbprint(certs []*x509.Certificate, expectedThumbprint string) error {
	if len(certs) == 0 {
		return fmt.Errorf("tls: no peer certificates presented")
	}
	leaf := certs[0]
	if got := cm.CalculateThumbprint(leaf); got != expectedThumbprint {
		return fmt.Errorf("tls: peer certificate thumbprint mismatch: expected %s, got %s", expectedThumbprint, got)
	}
	return nil
}
