package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/multiformats/go-multihash"
)

// Radix is the base of an identifier digit. One digit is one hex character.
const Radix = 16

// MaxIDBits is the widest identifier HashID can produce (sha2-256 digest).
const MaxIDBits = 256

// ID is a fixed-length identifier made of radix-16 digits, stored as a
// lowercase hex string. Node and object identifiers share this
// representation. Identifiers of equal length compare numerically when
// compared as strings.
type ID string

// ParseID validates s and returns it as an identifier.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("empty identifier")
	}

	s = strings.ToLower(s)
	for i := 0; i < len(s); i++ {
		if digitValue(s[i]) < 0 {
			return "", fmt.Errorf("invalid identifier %q: bad digit at %d", s, i)
		}
	}

	return ID(s), nil
}

// MustParseID is ParseID that panics, for constants and tests.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// HashID hashes the concatenation of parts and returns an identifier of the
// given width in bits. bits must be a positive multiple of 4 and at most
// MaxIDBits.
func HashID(bits int, parts ...[]byte) ID {
	data := bytes.Join(parts, nil)

	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// Sum only fails for unknown codes, SHA2_256 is always registered.
		return ""
	}

	decoded, err := multihash.Decode(mh)
	if err != nil {
		return ""
	}

	digits := hex.EncodeToString(decoded.Digest)
	return ID(digits[:bits/4])
}

// HashIDs hashes a list of identifiers, in order.
func HashIDs(bits int, ids ...ID) ID {
	parts := make([][]byte, len(ids))
	for i, id := range ids {
		parts[i] = []byte(id)
	}
	return HashID(bits, parts...)
}

// Digits returns the number of digits, i.e. the number of routing levels.
func (id ID) Digits() int {
	return len(id)
}

// Bits returns the identifier width in bits.
func (id ID) Bits() int {
	return len(id) * 4
}

// DigitAt returns the digit at the given level. It panics if level is out of
// range.
func (id ID) DigitAt(level int) int {
	return digitValue(id[level])
}

// SharedPrefixLength returns the number of leading digits id and other have in
// common.
func (id ID) SharedPrefixLength(other ID) int {
	n := len(id)
	if len(other) < n {
		n = len(other)
	}

	for i := 0; i < n; i++ {
		if id[i] != other[i] {
			return i
		}
	}
	return n
}

// Compare returns -1, 0 or +1 depending on whether id is numerically lower,
// equal or greater than other.
func (id ID) Compare(other ID) int {
	if len(id) != len(other) {
		return id.Big().Cmp(other.Big())
	}
	return strings.Compare(string(id), string(other))
}

// Big returns the numeric value of the identifier.
func (id ID) Big() *big.Int {
	v := new(big.Int)
	if id == "" {
		return v
	}
	v.SetString(string(id), Radix)
	return v
}

// Distance returns the distance between id and other on the identifier ring,
// i.e. min(|a-b|, 2^bits - |a-b|).
func (id ID) Distance(other ID) *big.Int {
	diff := new(big.Int).Sub(id.Big(), other.Big())
	diff.Abs(diff)

	bits := id.Bits()
	if other.Bits() > bits {
		bits = other.Bits()
	}

	ring := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	wrap := new(big.Int).Sub(ring, diff)
	if wrap.Cmp(diff) < 0 {
		return wrap
	}
	return diff
}

// Short returns the first 8 digits, for logs.
func (id ID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// NodeAddress is a node identifier together with the endpoints it can be
// reached at. Two addresses are the same node iff their IDs are equal.
type NodeAddress struct {
	ID ID
	// Endpoint is the transport address messages are sent to.
	Endpoint string
	// Inspector is an optional endpoint of an inspection service.
	Inspector string `json:",omitempty"`
}

// Equal reports whether a and b designate the same node.
func (a NodeAddress) Equal(b NodeAddress) bool {
	return a.ID == b.ID
}

// IsZero reports whether the address is unset.
func (a NodeAddress) IsZero() bool {
	return a.ID == ""
}

// String implements fmt.Stringer.
func (a NodeAddress) String() string {
	return fmt.Sprintf("%s@%s", a.ID.Short(), a.Endpoint)
}
