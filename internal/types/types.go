// Package types defines the core identity types for the Ember platform.
//
// Addresses follow Ember network conventions: 32 raw bytes, base58 for
// display. A ModuleID pairs the publishing address with the module name and
// is the unit the loader links against.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// Size constants for core types.
const (
	AddressSize = 32
	HashSize    = 32
)

var (
	// ErrInvalidAddress is returned when an address has invalid length.
	ErrInvalidAddress = errors.New("invalid address: must be 32 bytes")

	// ErrInvalidHash is returned when a hash has invalid length.
	ErrInvalidHash = errors.New("invalid hash: must be 32 bytes")

	// ErrInvalidModuleID is returned when a module id string is malformed.
	ErrInvalidModuleID = errors.New("invalid module id: want <address>::<name>")
)

// Address represents a 32-byte account address.
type Address [AddressSize]byte

// AddressFromBase58 parses a base58-encoded address.
func AddressFromBase58(s string) (Address, error) {
	var a Address
	data, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != AddressSize {
		return a, ErrInvalidAddress
	}
	copy(a[:], data)
	return a, nil
}

// AddressFromHex parses a hex-encoded address. Short forms are accepted and
// left-padded, so "0x1" names the address ending in 0x01.
func AddressFromHex(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("hex decode: %w", err)
	}
	if len(data) > AddressSize {
		return a, ErrInvalidAddress
	}
	copy(a[AddressSize-len(data):], data)
	return a, nil
}

// AddressFromBytes creates an Address from a byte slice.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, ErrInvalidAddress
	}
	copy(a[:], b)
	return a, nil
}

// String returns the base58-encoded representation.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Hex returns the 0x-prefixed hex representation.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
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

// Equals returns true if two addresses are equal.
func (a Address) Equals(other Address) bool {
	return a == other
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := AddressFromBase58(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ModuleID identifies a published module: the publishing address plus the
// module name.
type ModuleID struct {
	Address Address
	Name    string
}

// NewModuleID creates a ModuleID.
func NewModuleID(addr Address, name string) ModuleID {
	return ModuleID{Address: addr, Name: name}
}

// ParseModuleID parses "<address>::<name>" where address is base58 or
// 0x-prefixed hex.
func ParseModuleID(s string) (ModuleID, error) {
	var id ModuleID
	idx := strings.Index(s, "::")
	if idx <= 0 || idx+2 >= len(s) {
		return id, ErrInvalidModuleID
	}
	addrStr, name := s[:idx], s[idx+2:]
	var addr Address
	var err error
	if strings.HasPrefix(addrStr, "0x") {
		addr, err = AddressFromHex(addrStr)
	} else {
		addr, err = AddressFromBase58(addrStr)
	}
	if err != nil {
		return id, err
	}
	return ModuleID{Address: addr, Name: name}, nil
}

// String returns "<base58 address>::<name>".
func (id ModuleID) String() string {
	return id.Address.String() + "::" + id.Name
}

// ShortString returns a compact form using the trailing non-zero hex bytes of
// the address, convenient in logs and error messages.
func (id ModuleID) ShortString() string {
	trimmed := id.Address[:]
	for len(trimmed) > 1 && trimmed[0] == 0 {
		trimmed = trimmed[1:]
	}
	return "0x" + hex.EncodeToString(trimmed) + "::" + id.Name
}

// Equals returns true if two module ids are equal.
func (id ModuleID) Equals(other ModuleID) bool {
	return id == other
}

// Hash represents a 32-byte BLAKE3 digest.
type Hash [HashSize]byte

// HashFromBytes creates a Hash from a byte slice.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses a hex-encoded hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	data, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hex decode: %w", err)
	}
	if len(data) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], data)
	return h, nil
}

// ComputeHash computes the BLAKE3 digest of data.
func ComputeHash(data []byte) Hash {
	return blake3.Sum256(data)
}

// String returns the base58-encoded representation.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// Hex returns the hex-encoded representation.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}
