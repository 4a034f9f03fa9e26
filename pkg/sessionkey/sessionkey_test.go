package sessionkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeAuthIDRoundTrip(t *testing.T) {
	for _, authID := range []int32{0, 1, 7, 12345} {
		id := EncodeID(authID, 42)
		require.Equal(t, authID, DecodeAuthID(id))
	}
}

func TestEncodeIDKeepsSequenceInLowBits(t *testing.T) {
	idA := EncodeID(7, 1)
	idB := EncodeID(7, 2)
	require.NotEqual(t, idA, idB)
	require.Equal(t, int32(7), DecodeAuthID(idA))
	require.Equal(t, int32(7), DecodeAuthID(idB))
}

func TestKeyAddOwnerIsIdempotent(t *testing.T) {
	k := &Key{ID: 1}
	k.AddOwner("entity-a")
	k.AddOwner("entity-a")
	require.Len(t, k.Owners, 1)
	require.True(t, k.HasOwner("entity-a"))
	require.False(t, k.HasOwner("entity-b"))
}
