// Package tiers holds the holding-streak tier table. Tiers rise only through
// elapsed holding time and are looked up here by every component that needs a
// multiplier or a threshold.
package tiers

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinTier = 1
	MaxTier = 6
)

type Tier struct {
	Tier       int
	Name       string
	Emoji      string
	Multiplier decimal.Decimal
	MinHours   int
}

// MinDuration is the streak length at which the tier is reached.
func (t Tier) MinDuration() time.Duration {
	return time.Duration(t.MinHours) * time.Hour
}

// Table is ordered by ascending MinHours.
var Table = []Tier{
	{Tier: 1, Name: "Ore", Emoji: "\U0001FAA8", Multiplier: decimal.RequireFromString("1.0"), MinHours: 0},
	{Tier: 2, Name: "Raw Copper", Emoji: "🔶", Multiplier: decimal.RequireFromString("1.25"), MinHours: 6},
	{Tier: 3, Name: "Refined", Emoji: "⚡", Multiplier: decimal.RequireFromString("1.5"), MinHours: 12},
	{Tier: 4, Name: "Industrial", Emoji: "🏭", Multiplier: decimal.RequireFromString("2.5"), MinHours: 72},
	{Tier: 5, Name: "Master Miner", Emoji: "👑", Multiplier: decimal.RequireFromString("3.5"), MinHours: 168},
	{Tier: 6, Name: "Diamond Hands", Emoji: "💎", Multiplier: decimal.RequireFromString("5.0"), MinHours: 720},
}

// Get returns the tier with the given number.
func Get(n int) (Tier, bool) {
	if n < MinTier || n > MaxTier {
		return Tier{}, false
	}
	return Table[n-1], true
}

// MustGet returns the tier with the given number, falling back to tier 1 for
// numbers outside the table.
func MustGet(n int) Tier {
	if t, ok := Get(n); ok {
		return t
	}
	return Table[0]
}

// ForDuration returns the highest tier whose threshold is at or below the
// given streak length. A negative streak maps to tier 1.
func ForDuration(d time.Duration) Tier {
	current := Table[0]
	for _, t := range Table {
		if d >= t.MinDuration() {
			current = t
		}
	}
	return current
}

// ForStreak is ForDuration applied to now - streakStart.
func ForStreak(streakStart, now time.Time) Tier {
	return ForDuration(now.Sub(streakStart))
}

// Next returns the tier after n, if any.
func Next(n int) (Tier, bool) {
	return Get(n + 1)
}

// Demote returns the tier a sell drops n to.
func Demote(n int) Tier {
	if n <= MinTier {
		return Table[0]
	}
	if n > MaxTier {
		n = MaxTier
	}
	return Table[n-2]
}

// HoursToNext returns the hours remaining until the tier after n is reached
// for a streak of length d. ok is false at the top tier.
func HoursToNext(n int, d time.Duration) (hours float64, ok bool) {
	next, ok := Next(n)
	if !ok {
		return 0, false
	}
	remaining := next.MinDuration() - d
	if remaining < 0 {
		remaining = 0
	}
	return remaining.Hours(), true
}

// Multiplier returns the multiplier for tier n, tier 1's for unknown tiers.
func Multiplier(n int) decimal.Decimal {
	return MustGet(n).Multiplier
}
