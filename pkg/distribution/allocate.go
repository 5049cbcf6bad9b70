package distribution

import (
	"sort"

	"github.com/copperlabs/engine/pkg/utils"
	"github.com/shopspring/decimal"
)

// Allocation is one wallet's share of a distribution.
type Allocation struct {
	Wallet     string
	Balance    uint64
	Twab       decimal.Decimal
	Tier       int
	Multiplier decimal.Decimal
	HashPower  decimal.Decimal
	Amount     uint64
}

// SortAllocations orders by hash power descending, then wallet ascending.
func SortAllocations(allocs []*Allocation) {
	sort.SliceStable(allocs, func(i, j int) bool {
		if c := allocs[i].HashPower.Cmp(allocs[j].HashPower); c != 0 {
			return c > 0
		}
		return allocs[i].Wallet < allocs[j].Wallet
	})
}

// TotalHashPower sums the hash power of allocs.
func TotalHashPower(allocs []*Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.HashPower)
	}
	return total
}

// Allocate splits pool in proportion to hash power. Each share is floored to
// a whole raw unit and whatever is left over goes to the first allocation
// after sorting, so the amounts always add up to pool. allocs is sorted in
// place. It reports false when the total hash power is not positive.
func Allocate(pool uint64, allocs []*Allocation) bool {
	total := TotalHashPower(allocs)
	if !total.IsPositive() {
		return false
	}
	SortAllocations(allocs)

	poolDec := utils.DecimalFromUint64(pool)
	var assigned uint64
	for _, a := range allocs {
		q, _ := poolDec.Mul(a.HashPower).QuoRem(total, 0)
		a.Amount = q.BigInt().Uint64()
		assigned += a.Amount
	}
	if len(allocs) > 0 && assigned < pool {
		allocs[0].Amount += pool - assigned
	}
	return true
}
