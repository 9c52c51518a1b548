package impl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/types"
)

const testBits = 160

func Test_OBJECTID_DataVerifiable(t *testing.T) {
	data := []byte("some data")
	tokenID := types.DeleteTokenID(testBits, "secret")

	obj := &types.StoredObject{Data: data, Metadata: types.Metadata{DeleteTokenID: tokenID}}

	id, err := ComputeObjectID(testBits, obj)
	require.NoError(t, err)
	require.Equal(t, types.HashIDs(testBits, types.DataHash(testBits, data), tokenID), id)
	require.Equal(t, 40, id.Digits())

	// the token alone is enough
	obj = &types.StoredObject{Data: data, Metadata: types.Metadata{DeleteToken: "secret"}}
	other, err := ComputeObjectID(testBits, obj)
	require.NoError(t, err)
	require.Equal(t, id, other)

	// the data changes the id
	obj = &types.StoredObject{Data: []byte("other"), Metadata: types.Metadata{DeleteTokenID: tokenID}}
	other, err = ComputeObjectID(testBits, obj)
	require.NoError(t, err)
	require.NotEqual(t, id, other)
}

func Test_OBJECTID_TokenMismatch(t *testing.T) {
	obj := &types.StoredObject{
		Data: []byte("some data"),
		Metadata: types.Metadata{
			DeleteTokenID: types.DeleteTokenID(testBits, "secret"),
			DeleteToken:   "not the secret",
		},
	}

	_, err := ComputeObjectID(testBits, obj)
	require.ErrorIs(t, err, peer.ErrDeleteTokenMismatch)
	require.ErrorIs(t, err, peer.ErrInvalidObject)
}

func Test_OBJECTID_Voucher(t *testing.T) {
	claimed := types.HashID(testBits, []byte("name"))

	obj := NewVoucheredObject(testBits, claimed, []byte("some data"), "secret")

	id, err := ComputeObjectID(testBits, obj)
	require.NoError(t, err)
	require.Equal(t, claimed, id)

	// exposing the right token is fine
	obj.Metadata.DeleteToken = "secret"
	_, err = ComputeObjectID(testBits, obj)
	require.NoError(t, err)

	// tampered data breaks the voucher, it is not a token mismatch
	obj.Data = []byte("tampered")
	_, err = ComputeObjectID(testBits, obj)
	require.ErrorIs(t, err, peer.ErrInvalidObject)
	require.False(t, errors.Is(err, peer.ErrDeleteTokenMismatch))
}

func Test_OBJECTID_Malformed(t *testing.T) {
	_, err := ComputeObjectID(testBits, &types.StoredObject{Data: []byte("x")})
	require.ErrorIs(t, err, peer.ErrInvalidObject)

	obj := &types.StoredObject{Metadata: types.Metadata{DeleteTokenID: "abc"}}
	_, err = ComputeObjectID(testBits, obj)
	require.ErrorIs(t, err, peer.ErrInvalidObject)

	obj = NewVoucheredObject(testBits, types.HashID(testBits, []byte("name")), nil, "secret")
	obj.Metadata.ObjectID = "12"
	_, err = ComputeObjectID(testBits, obj)
	require.ErrorIs(t, err, peer.ErrInvalidObject)
}
