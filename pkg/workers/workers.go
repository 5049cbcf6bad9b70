// Package workers runs the engine's periodic jobs, each on its own ticker.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Job is a unit of periodic work. Runs of the same job never overlap.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

type Scheduler struct {
	clock       clockwork.Clock
	jobs        []*Job
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger
	wg          sync.WaitGroup
}

func NewScheduler(clock clockwork.Clock, ms *metrics.MetricsSink, l *zap.Logger) *Scheduler {
	return &Scheduler{
		clock:       clock,
		metricsSink: ms,
		logger:      l,
	}
}

func (s *Scheduler) Add(jobs ...*Job) {
	s.jobs = append(s.jobs, jobs...)
}

func (s *Scheduler) Jobs() []*Job {
	return s.jobs
}

// Start launches one goroutine per job. They stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Sugar().Infow("Started workers", zap.Int("jobs", len(s.jobs)))
}

// Wait blocks until every job loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	if job.RunOnStart {
		s.RunOnce(ctx, job)
	}
	ticker := s.clock.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Sugar().Debugw("Stopping worker", zap.String("job", job.Name))
			return
		case <-ticker.Chan():
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes job synchronously. Panics are recovered and reported like
// errors so one failing job never takes the others down.
func (s *Scheduler) RunOnce(ctx context.Context, job *Job) (err error) {
	hub := sentry.CurrentHub().Clone()
	ctx = sentry.SetHubOnContext(ctx, hub)
	span := sentry.StartSpan(ctx, "worker.run", sentry.WithDescription(job.Name))
	span.SetTag("job", job.Name)
	start := s.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panicked: %v", job.Name, r)
		}
		status := "ok"
		if err != nil {
			status = "error"
			span.Status = sentry.SpanStatusInternalError
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("job", job.Name)
				hub.CaptureException(err)
			})
			s.logger.Sugar().Errorw("Worker run failed",
				zap.String("job", job.Name),
				zap.Error(err),
			)
		} else {
			span.Status = sentry.SpanStatusOK
			s.logger.Sugar().Debugw("Worker run finished",
				zap.String("job", job.Name),
				zap.Duration("duration", s.clock.Since(start)),
			)
		}
		span.Finish()
		_ = s.metricsSink.Incr(metricsTypes.Metric_Incr_WorkerRun, []metricsTypes.MetricsLabel{
			{Name: "job", Value: job.Name},
			{Name: "status", Value: status},
		}, 1)
	}()

	return job.Run(span.Context())
}
