package crypto

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/crypto/ocsp"
)

// Facade is the capability object the connection handler is given instead of
// reaching for crypto/* directly, so tests can substitute a deterministic
// double (per the "crypto separation" design note).
type Facade struct {
	authPrivateKey *rsa.PrivateKey
}

// NewFacade builds a Facade around the local Auth's own RSA private key,
// used for the PUB-ENC path's privateDecrypt/signWithPrivateKey operations.
func NewFacade(authPrivateKey *rsa.PrivateKey) *Facade {
	return &Facade{authPrivateKey: authPrivateKey}
}

// RandomBytes draws n bytes from the CSPRNG.
func (f *Facade) RandomBytes(n int) ([]byte, error) {
	return RandomBytes(n)
}

// RSASign signs data with the Auth's own private key using RSA-PKCS#1 v1.5
// over SHA-256. The returned signature is raw bytes, length equal to the
// modulus size (256 bytes for a 2048-bit key).
func (f *Facade) RSASign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, f.authPrivateKey, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: signing with Auth private key: %w", err)
	}
	return sig, nil
}

// RSAVerify checks a PKCS#1 v1.5/SHA-256 signature against the given public
// key. The data passed in is whatever was actually signed by the peer; for
// the PUB-ENC request path that is the pre-decryption ciphertext, not the
// recovered plaintext — callers are responsible for passing the right bytes.
func (f *Facade) RSAVerify(data, signature []byte, pub *rsa.PublicKey) error {
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("crypto: signature verification failed: %w", err)
	}
	return nil
}

// RSADecryptWithAuthKey performs RSA/ECB/PKCS1PADDING decryption with the
// Auth's own private key (the "privateDecrypt" operation).
func (f *Facade) RSADecryptWithAuthKey(data []byte) ([]byte, error) {
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, f.authPrivateKey, data)
	if err != nil {
		return nil, fmt.Errorf("crypto: RSA decryption failed: %w", err)
	}
	return plain, nil
}

// RSAEncrypt performs RSA/ECB/PKCS1PADDING encryption against an entity's
// public key (the "publicEncrypt" operation). Plaintext must be no longer
// than the modulus size minus 11 bytes; callers must not exceed it.
func (f *Facade) RSAEncrypt(data []byte, pub *rsa.PublicKey) ([]byte, error) {
	cipherText, err := rsa.EncryptPKCS1v15(rand.Reader, pub, data)
	if err != nil {
		return nil, fmt.Errorf("crypto: RSA encryption failed: %w", err)
	}
	return cipherText, nil
}

// LoadRSAPublicKeyFromCertFile reads a PEM or DER X.509 certificate file and
// returns its RSA public key, mirroring AuthCrypto.loadPublicKey from the
// original server (which always goes through a certificate, never a bare key
// file).
func LoadRSAPublicKeyFromCertFile(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: reading certificate %s: %w", path, err)
	}
	return ParseRSAPublicKeyFromCertPEMOrDER(raw)
}

// ParseRSAPublicKeyFromCertPEMOrDER extracts the RSA public key embedded in
// an X.509 certificate, accepting either PEM or raw DER encoding.
func ParseRSAPublicKeyFromCertPEMOrDER(raw []byte) (*rsa.PublicKey, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: certificate does not carry an RSA public key")
	}
	return pub, nil
}

// LoadAuthPrivateKey loads the local Auth's own RSA private key from a
// PKCS#8 DER file, matching the original AuthCrypto's requirement that
// private keys be supplied in DER form.
func LoadAuthPrivateKey(derPath string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(derPath)
	if err != nil {
		return nil, fmt.Errorf("crypto: reading private key %s: %w", derPath, err)
	}
	key, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing PKCS#8 private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("crypto: private key is not an RSA key")
	}
	return rsaKey, nil
}

// CheckCertificateRevocation performs an OCSP revocation check of leaf
// against issuer via the responder named in leaf's AIA extension, used by
// pkg/tls when the federation client verifies a peer Auth's certificate, as
// defense in depth on top of plain chain validation. Returns the parsed OCSP response so callers
// can inspect ocsp.Response.Status themselves; a responder that can't be
// reached surfaces as an error and is treated as "unknown", not "revoked" —
// OCSP availability is outside this Auth's control.
func CheckCertificateRevocation(httpClient *http.Client, leaf, issuer *x509.Certificate) (*ocsp.Response, error) {
	if len(leaf.OCSPServer) == 0 {
		return nil, fmt.Errorf("crypto: certificate has no OCSP responder configured")
	}
	req, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: building OCSP request: %w", err)
	}
	httpResp, err := httpClient.Post(leaf.OCSPServer[0], "application/ocsp-request", bytes.NewReader(req))
	if err != nil {
		return nil, fmt.Errorf("crypto: contacting OCSP responder: %w", err)
	}
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("crypto: reading OCSP response: %w", err)
	}
	resp, err := ocsp.ParseResponseForCert(body, leaf, issuer)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing OCSP response: %w", err)
	}
	return resp, nil
}
