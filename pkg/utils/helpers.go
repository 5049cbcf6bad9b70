// Package utils provides utility functions and constants for common operations
// throughout the application.
package utils

import (
	"math/big"
	"regexp"
	"sort"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

var walletAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// IsValidWalletAddress reports whether s is a base58 encoded 32 byte Solana
// public key.
//
// Parameters:
//   - s: Candidate wallet address
//
// Returns:
//   - bool: True if the address has the right alphabet, length and decodes to 32 bytes
func IsValidWalletAddress(s string) bool {
	if !walletAddressPattern.MatchString(s) {
		return false
	}
	b, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(b) == 32
}

// Map applies f to every element of l and returns the results in order.
func Map[A any, B any](l []A, f func(A, uint64) B) []B {
	out := make([]B, len(l))
	for i, v := range l {
		out[i] = f(v, uint64(i))
	}
	return out
}

// Filter returns the elements of l for which f returns true.
func Filter[A any](l []A, f func(A) bool) []A {
	out := make([]A, 0, len(l))
	for _, v := range l {
		if f(v) {
			out = append(out, v)
		}
	}
	return out
}

// Chunk splits l into consecutive slices of at most size elements.
func Chunk[A any](l []A, size int) [][]A {
	if size <= 0 {
		size = len(l)
	}
	chunks := make([][]A, 0)
	for size > 0 && len(l) > 0 {
		end := size
		if end > len(l) {
			end = len(l)
		}
		chunks = append(chunks, l[:end])
		l = l[end:]
	}
	return chunks
}

// SortedUnique returns the distinct strings of l in ascending order.
func SortedUnique(l []string) []string {
	seen := make(map[string]struct{}, len(l))
	out := make([]string, 0, len(l))
	for _, s := range l {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ToUiAmount converts a raw integer amount with the given number of decimals
// into a decimal.
func ToUiAmount(raw uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -decimals)
}

// FromUiAmount converts a decimal amount into raw smallest units, truncating
// anything below the smallest unit.
func FromUiAmount(amount decimal.Decimal, decimals int32) uint64 {
	if amount.IsNegative() {
		return 0
	}
	return amount.Shift(decimals).Truncate(0).BigInt().Uint64()
}

func DecimalFromUint64(v uint64) decimal.Decimal {
	return ToUiAmount(v, 0)
}
