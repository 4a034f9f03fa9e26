package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"testing"
	"time"

	authcrypto "authcore/pkg/crypto"
	"authcore/pkg/policy"
	"authcore/pkg/protocol"
	"authcore/pkg/registry"
	"authcore/pkg/sessionkey"
	"authcore/pkg/store"
	"authcore/pkg/wire"

	"github.com/stretchr/testify/require"
)

const testLocalAuthID = int32(1)

type testFixture struct {
	authPriv     *rsa.PrivateKey
	entityPriv   *rsa.PrivateKey
	entity       *registry.RegisteredEntity
	reg          *registry.AtomicRegistry
	policies     *store.PolicyStore
	sessionKeys  *store.SessionKeyStore
	entityFacade *authcrypto.Facade
	handler      *Handler
}

func newTestFixture(t *testing.T) *testFixture {
	authPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	entityPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	spec := authcrypto.SymmetricKeyCryptoSpec{CipherAlgo: "AES", CipherKeyBits: 128, CipherMode: "CBC", HashAlgo: "SHA256"}
	entity := registry.NewRegisteredEntity("entity-1", "G1", &entityPriv.PublicKey, false, spec, time.Hour, 8, nil)
	reg := registry.NewAtomicRegistry(registry.NewSnapshot([]*registry.RegisteredEntity{entity}, nil))

	policies := store.NewPolicyStore([]policy.CommunicationPolicy{{
		RequesterGroup: "G1", TargetKind: policy.TargetGroup, TargetName: "G1",
		CryptoSpec: spec, KeyBits: 128, AbsValidity: time.Hour, RelValidity: time.Hour, MaxNumSessionKeyOwners: 8,
	}, {
		RequesterGroup: "G1", TargetKind: policy.PublishTopic, TargetName: "T1",
		CryptoSpec: spec, KeyBits: 128, AbsValidity: time.Hour, RelValidity: time.Hour, MaxNumSessionKeyOwners: 8,
	}})
	sessionKeys := store.NewSessionKeyStore(testLocalAuthID)

	deps := Deps{
		Config:      Config{LocalAuthID: testLocalAuthID, Timeout: 200 * time.Millisecond, FederationTimeout: time.Second},
		Crypto:      authcrypto.NewFacade(authPriv),
		Registry:    reg,
		Policies:    policies,
		SessionKeys: sessionKeys,
		Federation:  nil,
	}

	return &testFixture{
		authPriv:     authPriv,
		entityPriv:   entityPriv,
		entity:       entity,
		reg:          reg,
		policies:     policies,
		sessionKeys:  sessionKeys,
		entityFacade: authcrypto.NewFacade(entityPriv),
		handler:      NewHandler(deps, nil),
	}
}

func strPtr(s string) *string { return &s }

func (f *testFixture) buildPubEncPayload(t *testing.T, req protocol.SessionKeyReq) []byte {
	plain, err := req.Encode()
	require.NoError(t, err)
	encPayload, err := f.entityFacade.RSAEncrypt(plain, &f.authPriv.PublicKey)
	require.NoError(t, err)
	signature, err := f.entityFacade.RSASign(encPayload)
	require.NoError(t, err)
	return append(encPayload, signature...)
}

func (f *testFixture) buildDistKeyPayload(t *testing.T, req protocol.SessionKeyReq, distKeyBytes []byte) []byte {
	plain, err := req.Encode()
	require.NoError(t, err)
	mac, err := f.entityFacade.Hash(plain, f.entity.DistCryptoSpec.HashAlgo)
	require.NoError(t, err)
	cipherInput := append(append([]byte{}, plain...), mac...)
	cipherText, err := f.entityFacade.AESEncrypt(cipherInput, distKeyBytes, f.entity.DistCryptoSpec)
	require.NoError(t, err)
	nameBuf := wire.NewBufferedString(req.EntityName)
	return append(nameBuf.Bytes(), cipherText...)
}

func TestHandlePubEncHappyPath(t *testing.T) {
	f := newTestFixture(t)
	authNonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	req := protocol.SessionKeyReq{
		EntityName: "entity-1", AuthNonce: authNonce, EntityNonce: []byte{8, 7, 6, 5, 4, 3, 2, 1},
		NumKeys: 2, Purpose: protocol.Purpose{Group: strPtr("G1")},
	}
	payload := f.buildPubEncPayload(t, req)

	resp, err := f.handler.handlePubEnc(context.Background(), f.handler.log, authNonce, payload)
	require.NoError(t, err)
	require.NotNil(t, resp)

	distKey := f.entity.DistributionKey()
	require.NotNil(t, distKey)

	envelope, err := wire.Decode(resp)
	require.NoError(t, err)
	require.Equal(t, wire.MessageTypeSessionKeyResp, envelope.Type)

	modSize := f.authPriv.PublicKey.Size()
	distKeyCipher := envelope.Payload[:modSize]
	distKeySig := envelope.Payload[modSize : 2*modSize]
	aesCipher := envelope.Payload[2*modSize:]

	require.NoError(t, f.entityFacade.RSAVerify(distKeyCipher, distKeySig, &f.authPriv.PublicKey))
	distKeyPlain, err := f.entityFacade.RSADecryptWithAuthKey(distKeyCipher)
	require.NoError(t, err)
	require.Equal(t, distKey.KeyBytes, distKeyPlain[:len(distKey.KeyBytes)])

	respPlain, err := f.entityFacade.AESDecrypt(aesCipher, distKey.KeyBytes, f.entity.DistCryptoSpec)
	require.NoError(t, err)
	sessionResp, err := protocol.DecodeSessionKeyResp(respPlain)
	require.NoError(t, err)
	require.Equal(t, req.EntityNonce, sessionResp.EntityNonce)
	require.Len(t, sessionResp.Keys, 2)
	for _, k := range sessionResp.Keys {
		require.Equal(t, testLocalAuthID, sessionkey.DecodeAuthID(k.ID))
	}
}

func TestHandlePubEncUnknownEntity(t *testing.T) {
	f := newTestFixture(t)
	authNonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	req := protocol.SessionKeyReq{
		EntityName: "ghost", AuthNonce: authNonce, EntityNonce: make([]byte, 8),
		Purpose: protocol.Purpose{Group: strPtr("G1")},
	}
	payload := f.buildPubEncPayload(t, req)

	_, err := f.handler.handlePubEnc(context.Background(), f.handler.log, authNonce, payload)
	require.Error(t, err)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, KindUnknownEntity, herr.Kind)
}

func TestHandlePubEncBadSignature(t *testing.T) {
	f := newTestFixture(t)
	authNonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	req := protocol.SessionKeyReq{
		EntityName: "entity-1", AuthNonce: authNonce, EntityNonce: make([]byte, 8),
		Purpose: protocol.Purpose{Group: strPtr("G1")},
	}
	payload := f.buildPubEncPayload(t, req)
	payload[len(payload)-1] ^= 0xff // tamper with the trailing signature byte

	_, err := f.handler.handlePubEnc(context.Background(), f.handler.log, authNonce, payload)
	require.Error(t, err)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, KindSignatureInvalid, herr.Kind)

	require.Nil(t, f.entity.DistributionKey())
}

func TestHandlePubEncNonceMismatch(t *testing.T) {
	f := newTestFixture(t)
	issuedNonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	wrongNonce := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	req := protocol.SessionKeyReq{
		EntityName: "entity-1", AuthNonce: wrongNonce, EntityNonce: make([]byte, 8),
		Purpose: protocol.Purpose{Group: strPtr("G1")},
	}
	payload := f.buildPubEncPayload(t, req)

	_, err := f.handler.handlePubEnc(context.Background(), f.handler.log, issuedNonce, payload)
	require.Error(t, err)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, KindNonceMismatch, herr.Kind)
}

func TestHandleDistKeyHappyPath(t *testing.T) {
	f := newTestFixture(t)
	distKeyBytes := make([]byte, 16)
	for i := range distKeyBytes {
		distKeyBytes[i] = byte(i)
	}
	require.NoError(t, f.reg.UpdateDistributionKey("entity-1", &registry.DistributionKey{
		KeyBytes: distKeyBytes, ExpiresAt: time.Now().Add(time.Hour),
	}))

	authNonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	req := protocol.SessionKeyReq{
		EntityName: "entity-1", AuthNonce: authNonce, EntityNonce: []byte{2, 2, 2, 2, 2, 2, 2, 2},
		NumKeys: 1, Purpose: protocol.Purpose{PubTopic: strPtr("T1")},
	}
	payload := f.buildDistKeyPayload(t, req, distKeyBytes)

	resp, err := f.handler.handleDistKey(context.Background(), f.handler.log, authNonce, payload)
	require.NoError(t, err)

	envelope, err := wire.Decode(resp)
	require.NoError(t, err)
	require.Equal(t, wire.MessageTypeSessionKeyResp, envelope.Type)

	respPlain, err := f.entityFacade.AESDecrypt(envelope.Payload, distKeyBytes, f.entity.DistCryptoSpec)
	require.NoError(t, err)
	sessionResp, err := protocol.DecodeSessionKeyResp(respPlain)
	require.NoError(t, err)
	require.Equal(t, req.EntityNonce, sessionResp.EntityNonce)
	require.Len(t, sessionResp.Keys, 1)

	require.Equal(t, distKeyBytes, f.entity.DistributionKey().KeyBytes)
}

func TestHandleDistKeyExpired(t *testing.T) {
	f := newTestFixture(t)
	distKeyBytes := make([]byte, 16)
	require.NoError(t, f.reg.UpdateDistributionKey("entity-1", &registry.DistributionKey{
		KeyBytes: distKeyBytes, ExpiresAt: time.Now().Add(-time.Minute),
	}))

	authNonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	req := protocol.SessionKeyReq{
		EntityName: "entity-1", AuthNonce: authNonce, EntityNonce: make([]byte, 8),
		Purpose: protocol.Purpose{PubTopic: strPtr("T1")},
	}
	payload := f.buildDistKeyPayload(t, req, distKeyBytes)

	_, err := f.handler.handleDistKey(context.Background(), f.handler.log, authNonce, payload)
	require.Error(t, err)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, KindInvalidDistributionKey, herr.Kind)
}

func TestHandleDistKeyBadMAC(t *testing.T) {
	f := newTestFixture(t)
	distKeyBytes := make([]byte, 16)
	require.NoError(t, f.reg.UpdateDistributionKey("entity-1", &registry.DistributionKey{
		KeyBytes: distKeyBytes, ExpiresAt: time.Now().Add(time.Hour),
	}))

	authNonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	req := protocol.SessionKeyReq{
		EntityName: "entity-1", AuthNonce: authNonce, EntityNonce: make([]byte, 8),
		Purpose: protocol.Purpose{PubTopic: strPtr("T1")},
	}
	plain, err := req.Encode()
	require.NoError(t, err)
	macLen, err := f.entityFacade.HashLen(f.entity.DistCryptoSpec.HashAlgo)
	require.NoError(t, err)
	badMAC := make([]byte, macLen)
	cipherInput := append(append([]byte{}, plain...), badMAC...)
	cipherText, err := f.entityFacade.AESEncrypt(cipherInput, distKeyBytes, f.entity.DistCryptoSpec)
	require.NoError(t, err)
	nameBuf := wire.NewBufferedString(req.EntityName)
	payload := append(nameBuf.Bytes(), cipherText...)

	_, err = f.handler.handleDistKey(context.Background(), f.handler.log, authNonce, payload)
	require.Error(t, err)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, KindMacInvalid, herr.Kind)
}

type fakeFederation struct {
	key *sessionkey.Key
	err error
}

func (f *fakeFederation) FetchSessionKey(ctx context.Context, peer *registry.TrustedAuth, sessionKeyID int64,
	requesterName, requesterGroup string) (*sessionkey.Key, error) {
	return f.key, f.err
}

func TestDispatchSessionKeyIDFederatesToRemoteAuth(t *testing.T) {
	f := newTestFixture(t)
	remoteKey := &sessionkey.Key{
		ID:    sessionkey.EncodeID(7, 99),
		Value: []byte("remote-key-bytes"),
		CryptoSpec: authcrypto.SymmetricKeyCryptoSpec{CipherAlgo: "AES", CipherKeyBits: 128, CipherMode: "CBC", HashAlgo: "SHA256"},
	}
	f.handler.deps.Federation = &fakeFederation{key: remoteKey}
	f.handler.deps.Registry = registry.NewAtomicRegistry(registry.NewSnapshot(
		[]*registry.RegisteredEntity{f.entity},
		[]*registry.TrustedAuth{{ID: 7, Name: "peer-auth", BaseURL: "https://peer.example"}},
	))

	keyID := remoteKey.ID
	req := protocol.SessionKeyReq{EntityName: "entity-1", Purpose: protocol.Purpose{KeyID: &keyID}}
	keys, spec, err := f.handler.dispatchPurpose(context.Background(), f.entity, req)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, remoteKey.ID, keys[0].ID)
	require.Equal(t, remoteKey.CryptoSpec, spec)
}

func TestDispatchSessionKeyIDLocalLookupAddsOwner(t *testing.T) {
	f := newTestFixture(t)
	spec := authcrypto.SymmetricKeyCryptoSpec{CipherAlgo: "AES", CipherKeyBits: 128, CipherMode: "CBC", HashAlgo: "SHA256"}
	minted, err := f.sessionKeys.Generate("entity-0", 1, spec, 128, time.Hour, time.Hour)
	require.NoError(t, err)

	keyID := minted[0].ID
	req := protocol.SessionKeyReq{EntityName: "entity-1", Purpose: protocol.Purpose{KeyID: &keyID}}
	keys, _, err := f.handler.dispatchPurpose(context.Background(), f.entity, req)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.True(t, keys[0].HasOwner("entity-1"))
}

func TestRunFullHandshakeOverNetPipe(t *testing.T) {
	f := newTestFixture(t)
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		f.handler.Run(serverConn)
		close(done)
	}()

	helloBuf := make([]byte, 256)
	n, err := clientConn.Read(helloBuf)
	require.NoError(t, err)
	helloEnvelope, err := wire.Decode(helloBuf[:n])
	require.NoError(t, err)
	hello, err := protocol.DecodeAuthHello(helloEnvelope.Payload)
	require.NoError(t, err)
	require.Equal(t, testLocalAuthID, hello.AuthID)

	req := protocol.SessionKeyReq{
		EntityName: "entity-1", AuthNonce: hello.AuthNonce, EntityNonce: []byte{3, 3, 3, 3, 3, 3, 3, 3},
		NumKeys: 1, Purpose: protocol.Purpose{Group: strPtr("G1")},
	}
	payload := f.buildPubEncPayload(t, req)
	_, err = clientConn.Write(wire.Encode(wire.MessageTypeSessionKeyReqInPubEnc, payload))
	require.NoError(t, err)

	respBuf := make([]byte, 8192)
	n, err = clientConn.Read(respBuf)
	require.NoError(t, err)
	respEnvelope, err := wire.Decode(respBuf[:n])
	require.NoError(t, err)
	require.Equal(t, wire.MessageTypeSessionKeyResp, respEnvelope.Type)

	clientConn.Close()
	<-done
}

func TestRunClosesConnectionOnTimeout(t *testing.T) {
	f := newTestFixture(t)
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		f.handler.Run(serverConn)
		close(done)
	}()

	helloBuf := make([]byte, 256)
	_, err := clientConn.Read(helloBuf)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not close connection after read deadline")
	}
	clientConn.Close()
}
