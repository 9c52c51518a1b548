package impl

import (
	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/types"
)

// ComputeObjectID derives the identifier of an object from its content.
//
// A data-verifiable object is identified by hash(dataHash, deleteTokenID). A
// voucher-verifiable object carries its claimed identifier and a voucher that
// must equal hash(deleteTokenID, claimedID, dataHash). In both modes an
// exposed delete token must hash to the delete token id.
func ComputeObjectID(bits int, obj *types.StoredObject) (types.ID, error) {
	meta := obj.Metadata
	digits := bits / 4

	deleteTokenID := meta.DeleteTokenID
	if deleteTokenID == "" {
		if meta.DeleteToken == "" {
			return "", xerrors.Errorf("missing delete token id: %w", peer.ErrInvalidObject)
		}
		deleteTokenID = types.DeleteTokenID(bits, meta.DeleteToken)
	}

	if !wellFormed(deleteTokenID, digits) {
		return "", xerrors.Errorf("malformed delete token id %q: %w", deleteTokenID, peer.ErrInvalidObject)
	}

	if meta.DeleteToken != "" && types.DeleteTokenID(bits, meta.DeleteToken) != deleteTokenID {
		return "", xerrors.Errorf("token of %s: %w", deleteTokenID.Short(), peer.ErrDeleteTokenMismatch)
	}

	dataHash := types.DataHash(bits, obj.Data)

	if meta.Voucher == "" {
		return types.HashIDs(bits, dataHash, deleteTokenID), nil
	}

	claimed := meta.ObjectID
	if !wellFormed(claimed, digits) {
		return "", xerrors.Errorf("malformed claimed id %q: %w", claimed, peer.ErrInvalidObject)
	}

	if types.Voucher(bits, deleteTokenID, claimed, dataHash) != meta.Voucher {
		return "", xerrors.Errorf("voucher of %s does not match: %w", claimed.Short(), peer.ErrInvalidObject)
	}

	return claimed, nil
}

// NewVoucheredObject fills in the metadata making data verifiable under the
// given claimed identifier.
func NewVoucheredObject(bits int, claimed types.ID, data []byte, deleteToken string) *types.StoredObject {
	deleteTokenID := types.DeleteTokenID(bits, deleteToken)

	return &types.StoredObject{
		Data: data,
		Metadata: types.Metadata{
			DeleteTokenID: deleteTokenID,
			ObjectID:      claimed,
			Voucher:       types.Voucher(bits, deleteTokenID, claimed, types.DataHash(bits, data)),
		},
	}
}

func wellFormed(id types.ID, digits int) bool {
	if id.Digits() != digits {
		return false
	}
	_, err := types.ParseID(string(id))
	return err == nil
}
