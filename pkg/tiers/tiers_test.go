package tiers

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func Test_Table(t *testing.T) {
	t.Run("Should be ordered and contiguous", func(t *testing.T) {
		assert.Len(t, Table, MaxTier)
		for i, tier := range Table {
			assert.Equal(t, i+1, tier.Tier)
			if i > 0 {
				assert.Greater(t, tier.MinHours, Table[i-1].MinHours)
				assert.True(t, tier.Multiplier.GreaterThan(Table[i-1].Multiplier))
			}
		}
	})
	t.Run("Should carry the documented multipliers", func(t *testing.T) {
		expected := []string{"1", "1.25", "1.5", "2.5", "3.5", "5"}
		for i, m := range expected {
			assert.True(t, Table[i].Multiplier.Equal(decimal.RequireFromString(m)), "tier %d", i+1)
		}
	})
}

func Test_ForDuration(t *testing.T) {
	tests := []struct {
		hours    float64
		expected int
	}{
		{-1, 1},
		{0, 1},
		{5.99, 1},
		{6, 2},
		{11.5, 2},
		{12, 3},
		{71.99, 3},
		{72, 4},
		{167, 4},
		{168, 5},
		{719, 5},
		{720, 6},
		{10000, 6},
	}
	for _, tt := range tests {
		d := time.Duration(tt.hours * float64(time.Hour))
		assert.Equal(t, tt.expected, ForDuration(d).Tier, "hours=%v", tt.hours)
	}
}

func Test_ForDuration_Monotonic(t *testing.T) {
	previous := 0
	for h := 0; h <= 800; h++ {
		tier := ForDuration(time.Duration(h) * time.Hour).Tier
		assert.GreaterOrEqual(t, tier, previous)
		previous = tier
	}
}

func Test_ExactBoundary(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 3, ForStreak(start, start.Add(72*time.Hour-time.Nanosecond)).Tier)
	assert.Equal(t, 4, ForStreak(start, start.Add(72*time.Hour)).Tier)
}

func Test_Demote(t *testing.T) {
	assert.Equal(t, 1, Demote(1).Tier)
	assert.Equal(t, 1, Demote(2).Tier)
	assert.Equal(t, 3, Demote(4).Tier)
	assert.Equal(t, 5, Demote(6).Tier)
	assert.Equal(t, 1, Demote(0).Tier)
}

func Test_HoursToNext(t *testing.T) {
	hours, ok := HoursToNext(3, 20*time.Hour)
	assert.True(t, ok)
	assert.Equal(t, 52.0, hours)

	_, ok = HoursToNext(6, 1000*time.Hour)
	assert.False(t, ok)
}

func Test_Multiplier(t *testing.T) {
	assert.True(t, Multiplier(4).Equal(decimal.RequireFromString("2.5")))
	assert.True(t, Multiplier(42).Equal(decimal.NewFromInt(1)))
}
