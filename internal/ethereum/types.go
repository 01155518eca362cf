// Package ethereum provides Ethereum-specific types and hex codecs shared by the
// receipt signer, the indexer topology model, and the HTTP layer.
package ethereum

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Address represents an Ethereum address (20 bytes). It is used both as an indexer
// identity and as an allocation id.
type Address [20]byte

// Hash represents a 32-byte hash, used for deployment ids (content identifiers) and
// proofs of indexing.
type Hash [32]byte

// Uint64 is a hex-encoded uint64.
type Uint64 uint64

// Big is a hex-encoded big.Int, used for token amounts.
type Big big.Int

// MarshalJSON implements json.Marshaler for Address.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%x", a[:]))
}

// UnmarshalJSON implements json.Unmarshaler for Address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := DecodeAddress(s)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// String returns the hex string representation of the address.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", a[:])
}

// Hex returns the hex string with 0x prefix.
func (a Address) Hex() string {
	return EncodeAddress(a)
}

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	for _, b := range a {
		if b != 0 {
			return false
		}
	}
	return true
}

// MarshalJSON implements json.Marshaler for Hash.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%x", h[:]))
}

// UnmarshalJSON implements json.Unmarshaler for Hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := DecodeHash(s)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// String returns the hex string representation of the hash.
func (h Hash) String() string {
	return fmt.Sprintf("0x%x", h[:])
}

// MarshalJSON implements json.Marshaler for Uint64.
func (u Uint64) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%x", uint64(u)))
}

// UnmarshalJSON implements json.Unmarshaler for Uint64.
func (u *Uint64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := DecodeUint64(s)
	if err != nil {
		return err
	}
	*u = Uint64(decoded)
	return nil
}

// ToUint64 converts Uint64 to uint64.
func (u Uint64) ToUint64() uint64 {
	return uint64(u)
}

// MarshalJSON implements json.Marshaler for Big.
func (b Big) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%x", (*big.Int)(&b)))
}

// UnmarshalJSON implements json.Unmarshaler for Big.
func (b *Big) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := DecodeBig(s)
	if err != nil {
		return err
	}
	*b = Big(*decoded)
	return nil
}

// ToBig converts Big to *big.Int.
func (b *Big) ToBig() *big.Int {
	return (*big.Int)(b)
}

// AddressFromHex creates an Address from a hex string.
func AddressFromHex(s string) (Address, error) {
	return DecodeAddress(s)
}

// HashFromHex creates a Hash from a hex string.
func HashFromHex(s string) (Hash, error) {
	return DecodeHash(s)
}

// NewBig creates a Big from *big.Int.
func NewBig(i *big.Int) *Big {
	b := Big(*i)
	return &b
}
