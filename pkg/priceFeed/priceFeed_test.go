package priceFeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/retry"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	name  string
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) PriceUsd(ctx context.Context, mint string) (decimal.Decimal, error) {
	f.calls++
	return f.price, f.err
}

func newFeed(sources ...Source) (*Feed, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewFeed(sources, &FeedConfig{Retry: retry.Config{MaxAttempts: 1}}, clock, metrics.NewNoopMetricsSink(), zap.NewNop()), clock
}

func Test_Feed(t *testing.T) {
	ctx := context.Background()

	t.Run("Primary wins and is cached", func(t *testing.T) {
		primary := &fakeSource{name: "jupiter", price: decimal.RequireFromString("0.004")}
		fallback := &fakeSource{name: "coingecko", price: decimal.RequireFromString("0.005")}
		feed, clock := newFeed(primary, fallback)

		p, err := feed.PriceUsd(ctx, "mint")
		require.Nil(t, err)
		assert.True(t, p.Equal(decimal.RequireFromString("0.004")))

		clock.Advance(30 * time.Second)
		_, _ = feed.PriceUsd(ctx, "mint")
		assert.Equal(t, 1, primary.calls)
		assert.Equal(t, 0, fallback.calls)

		clock.Advance(31 * time.Second)
		_, _ = feed.PriceUsd(ctx, "mint")
		assert.Equal(t, 2, primary.calls)
	})

	t.Run("Falls back to the next source", func(t *testing.T) {
		primary := &fakeSource{name: "jupiter", err: errors.New("down")}
		fallback := &fakeSource{name: "coingecko", price: decimal.RequireFromString("0.005")}
		feed, _ := newFeed(primary, fallback)

		p, err := feed.PriceUsd(ctx, "mint")
		require.Nil(t, err)
		assert.True(t, p.Equal(decimal.RequireFromString("0.005")))
	})

	t.Run("Serves stale prices within the stale window then fails transiently", func(t *testing.T) {
		primary := &fakeSource{name: "jupiter", price: decimal.RequireFromString("0.004")}
		feed, clock := newFeed(primary)
		_, err := feed.PriceUsd(ctx, "mint")
		require.Nil(t, err)

		primary.err = errors.New("down")
		clock.Advance(2 * time.Minute)
		p, err := feed.PriceUsd(ctx, "mint")
		require.Nil(t, err)
		assert.True(t, p.Equal(decimal.RequireFromString("0.004")))

		clock.Advance(4 * time.Minute)
		_, err = feed.PriceUsd(ctx, "mint")
		assert.ErrorIs(t, err, ErrPriceUnavailable)
		assert.True(t, retry.IsRetryable(err))
	})

	t.Run("Zero prices are not accepted", func(t *testing.T) {
		feed, _ := newFeed(&fakeSource{name: "jupiter", price: decimal.Zero})
		_, err := feed.ForMint("mint").PriceUsd(ctx)
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	})
}
