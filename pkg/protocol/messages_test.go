package protocol

import (
	"testing"
	"time"

	authcrypto "authcore/pkg/crypto"
	"authcore/pkg/sessionkey"

	"github.com/stretchr/testify/require"
)

func TestAuthHelloRoundTrip(t *testing.T) {
	h := AuthHello{AuthID: 7, AuthNonce: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	decoded, err := DecodeAuthHello(h.Encode())
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestPurposeResolveRequiresExactlyOneField(t *testing.T) {
	group := "G1"
	_, err := Purpose{Group: &group}.Resolve()
	require.NoError(t, err)

	_, err = Purpose{}.Resolve()
	require.Error(t, err)

	pubTopic := "T1"
	_, err = Purpose{Group: &group, PubTopic: &pubTopic}.Resolve()
	require.Error(t, err)
}

func TestPurposeJSONRoundTrip(t *testing.T) {
	keyID := int64(42)
	p := Purpose{KeyID: &keyID}
	data, err := EncodePurpose(p)
	require.NoError(t, err)

	decoded, err := DecodePurpose(data)
	require.NoError(t, err)
	kind, err := decoded.Resolve()
	require.NoError(t, err)
	require.Equal(t, KindSessionKeyID, kind)
	require.Equal(t, keyID, *decoded.KeyID)
}

func TestSessionKeyReqRoundTrip(t *testing.T) {
	group := "G1"
	req := SessionKeyReq{
		EntityName:  "thermostat-1",
		AuthNonce:   []byte{1, 2, 3, 4, 5, 6, 7, 8},
		EntityNonce: []byte{8, 7, 6, 5, 4, 3, 2, 1},
		NumKeys:     3,
		Purpose:     Purpose{Group: &group},
	}
	encoded, err := req.Encode()
	require.NoError(t, err)

	decoded, err := DecodeSessionKeyReq(encoded)
	require.NoError(t, err)
	require.Equal(t, req.EntityName, decoded.EntityName)
	require.Equal(t, req.AuthNonce, decoded.AuthNonce)
	require.Equal(t, req.EntityNonce, decoded.EntityNonce)
	require.Equal(t, req.NumKeys, decoded.NumKeys)
	require.Equal(t, *req.Purpose.Group, *decoded.Purpose.Group)
}

func TestPeekEntityName(t *testing.T) {
	group := "G1"
	req := SessionKeyReq{EntityName: "sensor-9", AuthNonce: make([]byte, 8), EntityNonce: make([]byte, 8), Purpose: Purpose{Group: &group}}
	encoded, err := req.Encode()
	require.NoError(t, err)

	name, rest, err := PeekEntityName(encoded)
	require.NoError(t, err)
	require.Equal(t, "sensor-9", name)
	require.NotEqual(t, encoded, rest)
}

func TestSessionKeyRespRoundTrip(t *testing.T) {
	spec := authcrypto.SymmetricKeyCryptoSpec{CipherAlgo: "AES", CipherKeyBits: 128, CipherMode: "CBC", HashAlgo: "SHA256"}
	keys := []*sessionkey.Key{
		{ID: 100, Value: []byte("0123456789abcdef"), CryptoSpec: spec, AbsValidity: time.Now().Truncate(time.Millisecond), RelValidity: time.Hour},
		{ID: 101, Value: []byte("fedcba9876543210"), CryptoSpec: spec, AbsValidity: time.Now().Truncate(time.Millisecond), RelValidity: 2 * time.Hour},
	}
	resp := SessionKeyResp{EntityNonce: []byte{1, 2, 3, 4, 5, 6, 7, 8}, CryptoSpec: spec, Keys: keys}

	decoded, err := DecodeSessionKeyResp(resp.Encode())
	require.NoError(t, err)
	require.Equal(t, resp.EntityNonce, decoded.EntityNonce)
	require.Equal(t, resp.CryptoSpec, decoded.CryptoSpec)
	require.Len(t, decoded.Keys, 2)
	for i := range keys {
		require.Equal(t, keys[i].ID, decoded.Keys[i].ID)
		require.Equal(t, keys[i].Value, decoded.Keys[i].Value)
		require.True(t, keys[i].AbsValidity.Equal(decoded.Keys[i].AbsValidity))
		require.Equal(t, keys[i].RelValidity, decoded.Keys[i].RelValidity)
	}
}

func TestAlertEncodeDecodeRoundTrip(t *testing.T) {
	for _, code := range []AlertCode{AlertUnknownEntity, AlertInvalidDistributionKey} {
		decoded, err := DecodeAlert(EncodeAlert(code))
		require.NoError(t, err)
		require.Equal(t, code, decoded)
	}
}
