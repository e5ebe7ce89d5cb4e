package types

import "fmt"

// Reserved addresses. Modules published under these addresses ship with the
// platform and may carry native functions.
var (
	// ZeroAddr is the all-zero address. Never a valid publisher.
	ZeroAddr = Address{}

	// StdlibAddr hosts the platform standard library (0x1).
	StdlibAddr = mustAddressFromHex("0x1")

	// FrameworkAddr hosts the platform framework modules (0x2).
	FrameworkAddr = mustAddressFromHex("0x2")

	// SystemAddr hosts system state touched by consensus (0x5).
	SystemAddr = mustAddressFromHex("0x5")
)

// MustAddressFromBase58 parses a base58 address or panics.
// Only use for compile-time constants.
func MustAddressFromBase58(s string) Address {
	a, err := AddressFromBase58(s)
	if err != nil {
		panic(fmt.Sprintf("invalid address constant %q: %v", s, err))
	}
	return a
}

func mustAddressFromHex(s string) Address {
	a, err := AddressFromHex(s)
	if err != nil {
		panic(fmt.Sprintf("invalid address constant %q: %v", s, err))
	}
	return a
}

// IsReserved returns true if the address is one of the platform addresses.
func IsReserved(a Address) bool {
	switch a {
	case StdlibAddr, FrameworkAddr, SystemAddr:
		return true
	default:
		return false
	}
}
