package workers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/copperlabs/engine/pkg/buyback"
	"github.com/copperlabs/engine/pkg/distribution"
	"github.com/copperlabs/engine/pkg/distributionQueue"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQueue struct {
	err      error
	requests []distributionQueue.RequestType
}

func (f *fakeQueue) EnqueueAndWait(ctx context.Context, data distributionQueue.RequestData) (*distributionQueue.ResponseData, error) {
	f.requests = append(f.requests, data.Type)
	if f.err != nil {
		return nil, f.err
	}
	return &distributionQueue.ResponseData{
		Result:  &distribution.Result{Distribution: &storage.Distribution{Id: 1, TriggerType: storage.TriggerType_Time}},
		Payouts: &distribution.PayoutSummary{},
	}, nil
}

type fakeSnapshots struct{ ticks int }

func (f *fakeSnapshots) Tick(ctx context.Context) (*storage.Snapshot, error) {
	f.ticks++
	return nil, nil
}

func (f *fakeSnapshots) SweepRetention(ctx context.Context) (int64, error) { return 3, nil }

type fakeBuybacks struct{ err error }

func (f *fakeBuybacks) ProcessPendingRewards(ctx context.Context) (*buyback.Result, error) {
	return nil, f.err
}

func newScheduler(clock clockwork.Clock) *Scheduler {
	return NewScheduler(clock, metrics.NewNoopMetricsSink(), zap.NewNop())
}

func Test_RunOnce(t *testing.T) {
	s := newScheduler(clockwork.NewFakeClock())
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		assert.Nil(t, s.RunOnce(ctx, &Job{Name: "ok", Run: func(context.Context) error { return nil }}))
	})

	t.Run("Error is returned", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.RunOnce(ctx, &Job{Name: "err", Run: func(context.Context) error { return boom }})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Panic is recovered", func(t *testing.T) {
		err := s.RunOnce(ctx, &Job{Name: "panic", Run: func(context.Context) error { panic("kaboom") }})
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "kaboom")
	})
}

func Test_SchedulerTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newScheduler(clock)
	ran := make(chan struct{}, 10)
	s.Add(&Job{
		Name:     "tick",
		Interval: time.Minute,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.Nil(t, clock.BlockUntilContext(waitCtx, 1))

	select {
	case <-ran:
		t.Fatal("job ran before its first tick")
	default:
	}

	clock.Advance(time.Minute)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run after a tick")
	}

	cancel()
	s.Wait()
}

func Test_EngineJobs(t *testing.T) {
	ctx := context.Background()
	l := zap.NewNop()

	t.Run("Build skips missing dependencies", func(t *testing.T) {
		jobs := (&EngineJobs{Snapshots: &fakeSnapshots{}, Logger: l}).Build()
		names := make([]string, 0, len(jobs))
		for _, j := range jobs {
			names = append(names, j.Name)
		}
		assert.Equal(t, []string{"snapshot", "retention"}, names)

		all := (&EngineJobs{
			Snapshots:     &fakeSnapshots{},
			Distributions: &fakeQueue{},
			Buybacks:      &fakeBuybacks{},
			Logger:        l,
		}).Build()
		assert.Len(t, all, 5)
	})

	t.Run("Unmet trigger is not an error", func(t *testing.T) {
		outcomes := []error{
			distribution.ErrNotReady,
			distribution.ErrEmptyPool,
			distribution.ErrLockHeld,
			fmt.Errorf("distribution aborted: %w", distribution.ErrNoEligibleRecipients),
		}
		for _, benign := range outcomes {
			q := &fakeQueue{err: benign}
			e := &EngineJobs{Distributions: q, Logger: l}
			assert.Nil(t, e.distribution(ctx))
			assert.Equal(t, []distributionQueue.RequestType{distributionQueue.RequestType_ExecuteIfReady}, q.requests)
		}

		q := &fakeQueue{err: errors.New("db down")}
		assert.NotNil(t, (&EngineJobs{Distributions: q, Logger: l}).distribution(ctx))
	})

	t.Run("Payout retry goes through the queue", func(t *testing.T) {
		q := &fakeQueue{}
		require.Nil(t, (&EngineJobs{Distributions: q, Logger: l}).payoutRetry(ctx))
		assert.Equal(t, []distributionQueue.RequestType{distributionQueue.RequestType_RetryPayouts}, q.requests)
	})

	t.Run("Concurrent buyback is skipped", func(t *testing.T) {
		assert.Nil(t, (&EngineJobs{Buybacks: &fakeBuybacks{err: buyback.ErrAlreadyRunning}, Logger: l}).buyback(ctx))
		assert.NotNil(t, (&EngineJobs{Buybacks: &fakeBuybacks{err: errors.New("swap failed")}, Logger: l}).buyback(ctx))
	})

	t.Run("Snapshot trial", func(t *testing.T) {
		snaps := &fakeSnapshots{}
		e := &EngineJobs{Snapshots: snaps, Logger: l}
		require.Nil(t, e.snapshot(ctx))
		require.Nil(t, e.retention(ctx))
		assert.Equal(t, 1, snaps.ticks)
	})
}
