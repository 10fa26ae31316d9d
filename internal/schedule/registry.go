package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"beakdash-backend/internal/storage"
)

// DueLister supplies queries whose next execution time has passed.
type DueLister interface {
	ListDueQueries(ctx context.Context, now time.Time) ([]storage.QueryRecord, error)
}

// RunFunc executes one pipeline run for a due query on behalf of its owner.
type RunFunc func(ctx context.Context, queryID, userID string)

// Registry polls for due quality queries and feeds them to a bounded worker
// pool. Overlap with manual runs of the same query is prevented downstream by
// the pipeline's per-query lock.
type Registry struct {
	repo     DueLister
	run      RunFunc
	interval time.Duration
	queue    chan storage.QueryRecord
	workers  int
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewRegistry(repo DueLister, run RunFunc, interval time.Duration, workers int, logger *slog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		repo:     repo,
		run:      run,
		interval: interval,
		queue:    make(chan storage.QueryRecord, 64),
		workers:  workers,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Registry) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.wg.Add(1)
	go r.poll()
}

func (r *Registry) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) poll() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.scan()
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Registry) scan() {
	due, err := r.repo.ListDueQueries(r.ctx, time.Now().UTC())
	if err != nil {
		r.logger.Error("scan for due queries failed", slog.String("error", err.Error()))
		return
	}
	for _, rec := range due {
		select {
		case r.queue <- rec:
		case <-r.ctx.Done():
			return
		default:
			r.logger.Warn("scheduler queue full, deferring query", slog.String("queryId", rec.ID))
		}
	}
}

func (r *Registry) worker() {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.queue:
			r.run(r.ctx, rec.ID, rec.UserID)
		case <-r.ctx.Done():
			return
		}
	}
}
