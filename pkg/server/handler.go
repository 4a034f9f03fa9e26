// Package server implements the per-connection protocol state machine: the
// entity handshake, the dual-mode (public-key / distribution-key) session
// key request, and response assembly.
package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	authcrypto "authcore/pkg/crypto"
	"authcore/pkg/policy"
	"authcore/pkg/protocol"
	"authcore/pkg/registry"
	"authcore/pkg/sessionkey"
	"authcore/pkg/wire"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// maxRequestSize bounds the payload length wire.ReadEnvelope will read for a
// single request (see REDESIGN FLAGS: a deadline-bounded read replaces the
// original's InputStream.available() poll loop, with io.ReadFull semantics
// so a request split across TCP segments is still read in full). No request
// this protocol defines comes close to this size; a larger one is treated
// as malformed.
const maxRequestSize = 64 * 1024

// pubEncSignatureSize is the fixed length, in bytes, of the RSA signature
// trailing a PUB-ENC request payload, made with the requesting entity's
// private key. It assumes a 2048-bit entity key, per
// the original's own undocumented assumption — see the design notes' open
// question before changing this to derive from key size.
const pubEncSignatureSize = 256

// Handler runs the connection state machine for one accepted entity
// connection: generate the handshake nonce, read exactly one request,
// process it, and write exactly one response or alert.
type Handler struct {
	deps Deps
	log  *logrus.Entry
}

// NewHandler builds a Handler from its collaborators.
func NewHandler(deps Deps, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{deps: deps, log: log}
}

// Run drives conn through the full protocol state machine to completion,
// closing it when done. It is meant to be the entire body of a per-
// connection goroutine.
func (h *Handler) Run(conn net.Conn) {
	entry := h.log.WithField("remote_addr", conn.RemoteAddr().String())
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("connection handler panicked, closing connection")
		}
	}()

	authNonce, err := h.deps.Crypto.RandomBytes(protocol.AuthNonceSize)
	if err != nil {
		entry.WithError(err).Error("failed to generate auth nonce")
		return
	}
	entry = entry.WithField("auth_nonce", wire.ToHexString(authNonce))

	hello := protocol.AuthHello{AuthID: h.deps.Config.LocalAuthID, AuthNonce: authNonce}
	if _, err := conn.Write(wire.Encode(wire.MessageTypeAuthHello, hello.Encode())); err != nil {
		entry.WithError(err).Warn("failed to send AUTH_HELLO")
		return
	}

	if err := conn.SetReadDeadline(time.Now().Add(h.deps.Config.Timeout)); err != nil {
		entry.WithError(err).Error("failed to arm read deadline")
		return
	}

	envelope, err := wire.ReadEnvelope(conn, maxRequestSize)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			entry.Debug("no request arrived before deadline, closing")
		} else {
			entry.WithError(err).Debug("failed to read request, closing")
		}
		return
	}
	entry = entry.WithField("msg_type", envelope.Type.String())

	response, procErr := h.process(context.Background(), entry, authNonce, envelope)
	if procErr != nil {
		var herr *HandlerError
		if errors.As(procErr, &herr) && herr.Kind == KindInvalidDistributionKey {
			if _, writeErr := conn.Write(wire.Encode(wire.MessageTypeAuthAlert, protocol.EncodeAlert(protocol.AlertInvalidDistributionKey))); writeErr != nil {
				entry.WithError(writeErr).Warn("failed to send AUTH_ALERT")
			}
		}
		boundaryErr := oops.Errorf("connection handler: remote=%s msg_type=%s: %w",
			conn.RemoteAddr().String(), envelope.Type.String(), procErr)
		entry.WithError(boundaryErr).Debug("request processing failed")
		return
	}
	if response == nil {
		return
	}
	if _, err := conn.Write(response); err != nil {
		entry.WithError(err).Warn("failed to send response")
	}
}

// process dispatches on the envelope's message type and returns the
// envelope-encoded response to write, or an error describing why none
// should be sent.
func (h *Handler) process(ctx context.Context, entry *logrus.Entry, authNonce []byte, envelope wire.Envelope) ([]byte, error) {
	switch envelope.Type {
	case wire.MessageTypeSessionKeyReqInPubEnc:
		return h.handlePubEnc(ctx, entry, authNonce, envelope.Payload)
	case wire.MessageTypeSessionKeyReq:
		return h.handleDistKey(ctx, entry, authNonce, envelope.Payload)
	default:
		return nil, newErr(KindDecodeError, fmt.Errorf("unexpected message type %s for a request", envelope.Type))
	}
}

// handlePubEnc implements the public-key handshake: decrypt with the Auth's
// own private key, verify the entity's signature over the ciphertext, mint
// and install a fresh distribution key, and encrypt the response under it.
func (h *Handler) handlePubEnc(ctx context.Context, entry *logrus.Entry, authNonce []byte, payload []byte) ([]byte, error) {
	if len(payload) <= pubEncSignatureSize {
		return nil, newErr(KindDecodeError, fmt.Errorf("PUB-ENC payload too short to carry a signature"))
	}
	encPayload := payload[:len(payload)-pubEncSignatureSize]
	signature := payload[len(payload)-pubEncSignatureSize:]

	decPayload, err := h.deps.Crypto.RSADecryptWithAuthKey(encPayload)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}
	req, err := protocol.DecodeSessionKeyReq(decPayload)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}

	entity, ok := h.deps.Registry.Entity(req.EntityName)
	if !ok {
		// No alert defined for this case in the original; close silently.
		return nil, newErr(KindUnknownEntity, fmt.Errorf("entity %q not registered", req.EntityName))
	}

	if err := h.deps.Crypto.RSAVerify(encPayload, signature, entity.PublicKey); err != nil {
		return nil, newErr(KindSignatureInvalid, err)
	}

	if !bytes.Equal(req.AuthNonce, authNonce) {
		return nil, newErr(KindNonceMismatch, fmt.Errorf("request authNonce does not match issued AUTH_HELLO nonce"))
	}

	keys, spec, err := h.dispatchPurpose(ctx, entity, req)
	if err != nil {
		return nil, err
	}

	newKeyBytes, err := h.deps.Crypto.RandomBytes(entity.DistCryptoSpec.CipherKeySize())
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}
	distKey := &registry.DistributionKey{KeyBytes: newKeyBytes, ExpiresAt: time.Now().Add(entity.DistKeyValidity)}
	if err := h.deps.Registry.UpdateDistributionKey(entity.Name, distKey); err != nil {
		return nil, newErr(KindDecodeError, err)
	}

	encryptedDistKeyCipher, err := h.deps.Crypto.RSAEncrypt(distKey.Serialize(), entity.PublicKey)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}
	distKeySig, err := h.deps.Crypto.RSASign(encryptedDistKeyCipher)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}

	respBody := protocol.SessionKeyResp{EntityNonce: req.EntityNonce, CryptoSpec: spec, Keys: keys}.Encode()
	respCipher, err := h.deps.Crypto.AESEncrypt(respBody, distKey.KeyBytes, entity.DistCryptoSpec)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}

	out := make([]byte, 0, len(encryptedDistKeyCipher)+len(distKeySig)+len(respCipher))
	out = append(out, encryptedDistKeyCipher...)
	out = append(out, distKeySig...)
	out = append(out, respCipher...)

	entry.WithField("entity", entity.Name).Debug("PUB-ENC request served, distribution key rotated")
	return wire.Encode(wire.MessageTypeSessionKeyResp, out), nil
}

// handleDistKey implements the distribution-key-protected path: the entity
// name arrives in cleartext, the rest of the payload is AES-CBC encrypted
// under the entity's current distribution key with a trailing plain-hash
// MAC (see design notes' open question on this construction).
func (h *Handler) handleDistKey(ctx context.Context, entry *logrus.Entry, authNonce []byte, payload []byte) ([]byte, error) {
	entityName, rest, err := protocol.PeekEntityName(payload)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}

	entity, ok := h.deps.Registry.Entity(entityName)
	if !ok {
		return nil, newErr(KindUnknownEntity, fmt.Errorf("entity %q not registered", entityName))
	}

	distKey := entity.DistributionKey()
	if distKey == nil || distKey.Expired(time.Now()) {
		return nil, newErr(KindInvalidDistributionKey, fmt.Errorf("entity %q has no valid distribution key", entityName))
	}

	decrypted, err := h.deps.Crypto.AESDecrypt(rest, distKey.KeyBytes, entity.DistCryptoSpec)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}

	macLen, err := h.deps.Crypto.HashLen(entity.DistCryptoSpec.HashAlgo)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}
	if len(decrypted) < macLen {
		return nil, newErr(KindDecodeError, fmt.Errorf("decrypted DIST-KEY payload shorter than MAC"))
	}
	plainPayload, mac := decrypted[:len(decrypted)-macLen], decrypted[len(decrypted)-macLen:]
	wantMAC, err := h.deps.Crypto.Hash(plainPayload, entity.DistCryptoSpec.HashAlgo)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}
	if !hmac.Equal(mac, wantMAC) {
		return nil, newErr(KindMacInvalid, fmt.Errorf("DIST-KEY request MAC mismatch"))
	}

	req, err := protocol.DecodeSessionKeyReq(plainPayload)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}

	if !bytes.Equal(req.AuthNonce, authNonce) {
		return nil, newErr(KindNonceMismatch, fmt.Errorf("request authNonce does not match issued AUTH_HELLO nonce"))
	}

	keys, spec, err := h.dispatchPurpose(ctx, entity, req)
	if err != nil {
		return nil, err
	}

	respBody := protocol.SessionKeyResp{EntityNonce: req.EntityNonce, CryptoSpec: spec, Keys: keys}.Encode()
	respCipher, err := h.deps.Crypto.AESEncrypt(respBody, distKey.KeyBytes, entity.DistCryptoSpec)
	if err != nil {
		return nil, newErr(KindDecodeError, err)
	}

	entry.WithField("entity", entity.Name).Debug("DIST-KEY request served")
	return wire.Encode(wire.MessageTypeSessionKeyResp, respCipher), nil
}

// dispatchPurpose resolves req.Purpose to a concrete list of session keys:
// a fresh mint for GROUP/PUB_TOPIC/SUB_TOPIC targets via the policy and
// session-key stores, or a lookup/fetch for a SESSION_KEY_ID target.
func (h *Handler) dispatchPurpose(ctx context.Context, entity *registry.RegisteredEntity, req protocol.SessionKeyReq) ([]*sessionkey.Key, authcrypto.SymmetricKeyCryptoSpec, error) {
	kind, err := req.Purpose.Resolve()
	if err != nil {
		return nil, authcrypto.SymmetricKeyCryptoSpec{}, newErr(KindDecodeError, err)
	}

	if kind == protocol.KindSessionKeyID {
		return h.dispatchSessionKeyID(ctx, entity, *req.Purpose.KeyID)
	}

	var targetKind policy.TargetKind
	var targetName string
	switch kind {
	case protocol.KindGroup:
		targetKind, targetName = policy.TargetGroup, *req.Purpose.Group
	case protocol.KindPubTopic:
		targetKind, targetName = policy.PublishTopic, *req.Purpose.PubTopic
	case protocol.KindSubTopic:
		targetKind, targetName = policy.SubscribeTopic, *req.Purpose.SubTopic
	}

	pol, err := h.deps.Policies.Resolve(entity.Group, targetKind, targetName)
	if err != nil {
		return nil, authcrypto.SymmetricKeyCryptoSpec{}, newErr(KindPolicyMissing, err)
	}

	n := int(req.NumKeys)
	if n > pol.MaxNumSessionKeyOwners {
		n = pol.MaxNumSessionKeyOwners
	}
	if n > entity.MaxSessionKeysPerRequest {
		n = entity.MaxSessionKeysPerRequest
	}

	keys, err := h.deps.SessionKeys.Generate(entity.Name, n, pol.CryptoSpec, pol.KeyBits, pol.AbsValidity, pol.RelValidity)
	if err != nil {
		return nil, authcrypto.SymmetricKeyCryptoSpec{}, newErr(KindDecodeError, err)
	}
	return keys, pol.CryptoSpec, nil
}

// dispatchSessionKeyID resolves a SESSION_KEY_ID purpose: a local lookup if
// the id was minted by this Auth, otherwise a federated fetch from whichever
// peer Auth its high bits name.
func (h *Handler) dispatchSessionKeyID(ctx context.Context, entity *registry.RegisteredEntity, id int64) ([]*sessionkey.Key, authcrypto.SymmetricKeyCryptoSpec, error) {
	mintingAuthID := sessionkey.DecodeAuthID(id)
	if mintingAuthID == h.deps.Config.LocalAuthID {
		key, ok := h.deps.SessionKeys.GetByID(id)
		if !ok {
			return nil, authcrypto.SymmetricKeyCryptoSpec{}, newErr(KindDecodeError, fmt.Errorf("no locally-minted session key with id %d", id))
		}
		if err := h.deps.SessionKeys.AddOwner(id, entity.Name); err != nil {
			return nil, authcrypto.SymmetricKeyCryptoSpec{}, newErr(KindDecodeError, err)
		}
		return []*sessionkey.Key{key}, key.CryptoSpec, nil
	}

	peer, ok := h.deps.Registry.TrustedAuth(int(mintingAuthID))
	if !ok {
		return nil, authcrypto.SymmetricKeyCryptoSpec{}, newErr(KindFederationFailure, fmt.Errorf("session key %d names unknown peer auth %d", id, mintingAuthID))
	}

	fedCtx, cancel := context.WithTimeout(ctx, h.deps.Config.FederationTimeout)
	defer cancel()
	key, err := h.deps.Federation.FetchSessionKey(fedCtx, peer, id, entity.Name, entity.Group)
	if err != nil {
		return nil, authcrypto.SymmetricKeyCryptoSpec{}, newErr(KindFederationFailure, err)
	}
	return []*sessionkey.Key{key}, key.CryptoSpec, nil
}
