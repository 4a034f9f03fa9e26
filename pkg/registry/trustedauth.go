package registry

import "crypto/rsa"

// TrustedAuth is a peer Auth this Auth will federate session-key requests
// to, identified by numeric ID (also embedded in the high bits of any
// session-key ID it mints) and pinned by TLS thumbprint for the federation
// client's mTLS handshake.
type TrustedAuth struct {
	ID             int
	Name           string
	PublicKey      *rsa.PublicKey
	BaseURL        string
	TLSServerName  string
	TLSThumbprint  string
}
