// Package engine runs one action per work unit on a bounded worker pool and
// streams a progress event for every finished unit.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dtnitsch/picget/models"
	"golang.org/x/sync/errgroup"
)

// DelayPolicy is the pause a worker takes after each unit: Base plus a
// uniform random amount in [0, Jitter).
type DelayPolicy struct {
	Base   time.Duration
	Jitter time.Duration
}

// Delay builds a policy from seconds, validating both values.
func Delay(baseSeconds, jitterSeconds float64) (DelayPolicy, error) {
	if err := models.ValidateDelay("delay", baseSeconds); err != nil {
		return DelayPolicy{}, err
	}
	if err := models.ValidateDelay("jitter", jitterSeconds); err != nil {
		return DelayPolicy{}, err
	}
	return DelayPolicy{Base: models.Seconds(baseSeconds), Jitter: models.Seconds(jitterSeconds)}, nil
}

func (d DelayPolicy) Next() time.Duration {
	if d.Jitter <= 0 {
		return d.Base
	}
	return d.Base + rand.N(d.Jitter)
}

// Action processes one unit. seq is the unit's 1-based position in the batch.
type Action func(ctx context.Context, unit models.WorkUnit, seq int) models.FetchResult

type Engine struct {
	workers int
	delay   DelayPolicy
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration)
}

// New validates the worker budget before anything runs.
func New(workers int, delay DelayPolicy, logger *slog.Logger) (*Engine, error) {
	if err := models.ValidateWorkers(workers); err != nil {
		return nil, err
	}
	if delay.Base < 0 || delay.Jitter < 0 {
		return nil, &models.ValidationError{Field: "delay", Value: delay.Base.String(), Reason: "must be >= 0"}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		workers: workers,
		delay:   delay,
		logger:  logger.With("component", "engine"),
		sleep:   Sleep,
	}, nil
}

func (e *Engine) Workers() int { return e.workers }

type job struct {
	seq  int
	unit models.WorkUnit
}

// Run starts the batch and returns a channel that receives exactly one
// Progress per unit and is then closed. Units not started before ctx is
// cancelled are reported as failed with models.ErrCancelled.
func (e *Engine) Run(ctx context.Context, units []models.WorkUnit, action Action) <-chan models.Progress {
	total := len(units)
	out := make(chan models.Progress, total)
	if total == 0 {
		close(out)
		return out
	}

	workers := min(e.workers, total)
	e.logger.Info("Starting batch", "units", total, "workers", workers)

	jobs := make(chan job, total)
	for i, u := range units {
		jobs <- job{seq: i + 1, unit: u}
	}
	close(jobs)

	var (
		mu        sync.Mutex
		completed int
	)
	publish := func(r models.FetchResult) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		out <- models.Progress{Completed: completed, Total: total, Last: r}
	}

	var g errgroup.Group
	for w := 1; w <= workers; w++ {
		id := w
		g.Go(func() error {
			for j := range jobs {
				if ctx.Err() != nil {
					r := models.Failed(j.unit, models.ErrCancelled)
					r.Seq = j.seq
					publish(r)
					continue
				}

				e.logger.Debug("Worker started job", "worker_id", id, "url", j.unit.URL)
				r := e.execute(ctx, action, j)
				if r.Status == models.StatusFailed {
					e.logger.Warn("Unit failed", "worker_id", id, "url", j.unit.URL, "error", r.Detail)
				} else {
					e.logger.Debug("Worker finished job", "worker_id", id, "url", j.unit.URL, "status", r.Status.String())
				}
				publish(r)

				e.sleep(ctx, e.delay.Next())
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(out)
		e.logger.Info("All workers finished", "units", total)
	}()
	return out
}

// RunAll drains Run into a summary.
func (e *Engine) RunAll(ctx context.Context, units []models.WorkUnit, action Action) models.BatchSummary {
	return Collect(e.Run(ctx, units, action), nil)
}

// Collect drains a progress stream, calling onProgress for each event when set.
func Collect(events <-chan models.Progress, onProgress func(models.Progress)) models.BatchSummary {
	var s models.BatchSummary
	for p := range events {
		s.Total = p.Total
		s.Add(p.Last)
		if onProgress != nil {
			onProgress(p)
		}
	}
	return s
}

// execute runs the action, turning panics into failed results.
func (e *Engine) execute(ctx context.Context, action Action, j job) (r models.FetchResult) {
	defer func() {
		if p := recover(); p != nil {
			r = models.Failed(j.unit, fmt.Errorf("panic: %v", p))
		}
		r.Unit = j.unit
		r.Seq = j.seq
		if r.Status == models.StatusFailed && r.Detail == "" && r.Err != nil {
			r.Detail = r.Err.Error()
		}
	}()
	return action(ctx, j.unit, j.seq)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
