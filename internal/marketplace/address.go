package marketplace

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address identifies an account, an asset collection or a currency contract.
// Addresses are 20-byte hex strings with a 0x prefix, stored lowercase.
type Address string

// NativeCurrency is the sentinel currency id for native value transfers.
// It is always accepted and never stored in the allow-list.
const NativeCurrency Address = "0x0000000000000000000000000000000000000000"

const addressHexLen = 40

// ParseAddress validates and normalizes a hex address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("address %q: missing 0x prefix", s)
	}
	body := s[2:]
	if len(body) != addressHexLen {
		return "", fmt.Errorf("address %q: want %d hex digits, got %d", s, addressHexLen, len(body))
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("address %q: %w", s, err)
	}
	return Address("0x" + strings.ToLower(body)), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Valid reports whether a is a normalized address.
func (a Address) Valid() bool {
	parsed, err := ParseAddress(string(a))
	return err == nil && parsed == a
}

// IsNative reports whether a is the native currency sentinel.
func (a Address) IsNative() bool {
	return a == NativeCurrency
}

func (a Address) String() string {
	return string(a)
}
