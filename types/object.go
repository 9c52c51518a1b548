package types

import (
	"time"
)

// Metadata describes a stored object. The delete token id is always present,
// the claimed object id and voucher only for voucher-verified objects.
type Metadata struct {
	// DeleteTokenID is the hash of the secret delete token.
	DeleteTokenID ID
	// DeleteToken is the token itself, when the owner chose to expose it.
	DeleteToken string `json:",omitempty"`

	// ObjectID is the claimed identifier of a voucher-verified object.
	ObjectID ID `json:",omitempty"`
	// Voucher is hash(DeleteTokenID, ObjectID, data hash).
	Voucher ID `json:",omitempty"`

	CreatedAt time.Time
	// TimeToLive is counted from CreatedAt. Zero means the object never
	// expires.
	TimeToLive time.Duration

	Properties map[string]string `json:",omitempty"`
}

// StoredObject is an opaque payload with its metadata. ID is derived from the
// content, never assigned by the caller.
type StoredObject struct {
	ID       ID
	Data     []byte
	Metadata Metadata
}

// RemainingTTL returns how long the object still lives at now. The boolean is
// false for objects that never expire.
func (o *StoredObject) RemainingTTL(now time.Time) (time.Duration, bool) {
	if o.Metadata.TimeToLive <= 0 {
		return 0, false
	}

	left := o.Metadata.CreatedAt.Add(o.Metadata.TimeToLive).Sub(now)
	if left < 0 {
		left = 0
	}
	return left, true
}

// Expired reports whether the object's time to live has run out at now.
func (o *StoredObject) Expired(now time.Time) bool {
	left, bounded := o.RemainingTTL(now)
	return bounded && left == 0
}

// Copy returns a deep copy of the object.
func (o *StoredObject) Copy() *StoredObject {
	c := *o

	c.Data = append([]byte(nil), o.Data...)
	if o.Metadata.Properties != nil {
		c.Metadata.Properties = make(map[string]string, len(o.Metadata.Properties))
		for k, v := range o.Metadata.Properties {
			c.Metadata.Properties[k] = v
		}
	}

	return &c
}

// DeleteTokenID returns the identifier of a delete token.
func DeleteTokenID(bits int, token string) ID {
	return HashID(bits, []byte(token))
}

// DataHash returns the identifier of an object payload.
func DataHash(bits int, data []byte) ID {
	return HashID(bits, data)
}

// Voucher binds a claimed object id to its data and delete token.
func Voucher(bits int, deleteTokenID, objectID, dataHash ID) ID {
	return HashIDs(bits, deleteTokenID, objectID, dataHash)
}
