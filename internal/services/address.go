package services

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsValidAddress reports whether value is a 0x-prefixed 20-byte hex account
// address. Checksum casing is not enforced.
func IsValidAddress(value string) bool {
	return strings.HasPrefix(value, "0x") && common.IsHexAddress(value)
}

// NormalizeAddress returns the lowercase form used as the storage key for wallets
func NormalizeAddress(value string) string {
	return strings.ToLower(common.HexToAddress(value).Hex())
}

// SameAddress compares two valid addresses ignoring checksum casing
func SameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
