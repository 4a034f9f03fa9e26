// Package federation implements the outbound side of Auth-to-Auth
// federation: fetching a session key that was minted by a peer Auth, over a
// mutually authenticated HTTPS call.
package federation

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	authcrypto "authcore/pkg/crypto"
	"authcore/pkg/registry"
	"authcore/pkg/sessionkey"
	authtls "authcore/pkg/tls"
)

// sessionKeyReq is the JSON body POSTed to a peer Auth.
type sessionKeyReq struct {
	SessionKeyID          int64  `json:"SessionKeyID"`
	RequestingEntityName  string `json:"RequestingEntityName"`
	RequestingEntityGroup string `json:"RequestingEntityGroup"`
}

// sessionKeyResp is the JSON body a peer Auth returns for a successful
// fetch.
type sessionKeyResp struct {
	ID                int64  `json:"id"`
	Owner             string `json:"owner"`
	MaxOwners         int    `json:"maxOwners"`
	CryptoSpec        string `json:"cryptoSpec"`
	ExpirationTime    int64  `json:"expirationTime"`
	RelValidityPeriod int64  `json:"relValidityPeriod"`
	KeyVal            string `json:"keyVal"`
}

// Client performs fetchSessionKey calls against trusted peer Auths. Each
// call builds its own mTLS *http.Client from the local Auth's client
// certificate and the peer's pinned identity, rather than caching one
// client per peer, since peers and their certificates are expected to
// change far less often than requests are made.
type Client struct {
	tlsManager  *authtls.Manager
	clientCert  tls.Certificate
	defaultTimeout time.Duration
}

// NewClient returns a federation Client that authenticates to every peer
// Auth with clientCert.
func NewClient(tlsManager *authtls.Manager, clientCert tls.Certificate, defaultTimeout time.Duration) *Client {
	return &Client{tlsManager: tlsManager, clientCert: clientCert, defaultTimeout: defaultTimeout}
}

// ErrFederationFailure wraps any HTTP transport or decoding failure talking
// to a peer Auth; the handler treats it as fatal for the current request.
type ErrFederationFailure struct {
	PeerAuthID int32
	Cause      error
}

func (e *ErrFederationFailure) Error() string {
	return fmt.Sprintf("federation: request to auth %d failed: %v", e.PeerAuthID, e.Cause)
}

func (e *ErrFederationFailure) Unwrap() error { return e.Cause }

// FetchSessionKey asks peer for the session key identified by sessionKeyID
// on behalf of requesterName/requesterGroup, and returns it with its crypto
// spec. The peer is solely responsible for deciding whether the requester
// is authorized to receive it.
func (c *Client) FetchSessionKey(ctx context.Context, peer *registry.TrustedAuth, sessionKeyID int64,
	requesterName, requesterGroup string) (*sessionkey.Key, error) {

	httpClient := c.tlsManager.HTTPClient(c.clientCert, peer.TLSServerName, peer.TLSThumbprint, c.defaultTimeout)

	reqBody, err := json.Marshal(sessionKeyReq{
		SessionKeyID:          sessionKeyID,
		RequestingEntityName:  requesterName,
		RequestingEntityGroup: requesterGroup,
	})
	if err != nil {
		return nil, &ErrFederationFailure{PeerAuthID: int32(peer.ID), Cause: err}
	}

	targetURL := strings.TrimSuffix(peer.BaseURL, "/") + "/"
	form := url.Values{"Name": {"Robert"}, "Age": {"32"}}
	targetURL += "?" + form.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &ErrFederationFailure{PeerAuthID: int32(peer.ID), Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, &ErrFederationFailure{PeerAuthID: int32(peer.ID), Cause: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, &ErrFederationFailure{PeerAuthID: int32(peer.ID), Cause: fmt.Errorf("unexpected status %d", httpResp.StatusCode)}
	}

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ErrFederationFailure{PeerAuthID: int32(peer.ID), Cause: err}
	}

	var resp sessionKeyResp
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, &ErrFederationFailure{PeerAuthID: int32(peer.ID), Cause: err}
	}

	spec, err := authcrypto.ParseSpecString(resp.CryptoSpec)
	if err != nil {
		return nil, &ErrFederationFailure{PeerAuthID: int32(peer.ID), Cause: err}
	}

	keyVal, err := base64.StdEncoding.DecodeString(resp.KeyVal)
	if err != nil {
		return nil, &ErrFederationFailure{PeerAuthID: int32(peer.ID), Cause: err}
	}

	key := &sessionkey.Key{
		ID:          resp.ID,
		Value:       keyVal,
		CryptoSpec:  spec,
		AbsValidity: time.UnixMilli(resp.ExpirationTime),
		RelValidity: time.Duration(resp.RelValidityPeriod) * time.Millisecond,
	}
	key.AddOwner(resp.Owner)
	return key, nil
}
