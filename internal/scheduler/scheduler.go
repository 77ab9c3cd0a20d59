// Package scheduler polls profiles on a fixed tick and dispatches the ones
// whose daily message is due.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thedetect/UTB2/internal/dispatch"
	"github.com/thedetect/UTB2/internal/domain"
)

// Candidates pages through profiles that may be due.
type Candidates interface {
	ListDispatchCandidates(ctx context.Context, afterID int64, limit int) ([]domain.User, error)
}

// Dispatcher runs one user's delivery for a local date.
type Dispatcher interface {
	Dispatch(ctx context.Context, u *domain.User, localDate string, now time.Time) (dispatch.Result, error)
}

// Stats summarizes one tick.
type Stats struct {
	Scanned int
	Due     int
	Sent    int
	Skipped int
	Failed  int
}

// Scheduler periodically polls the store and dispatches due users.
type Scheduler struct {
	repo       Candidates
	dispatcher Dispatcher
	log        *zap.Logger
	interval   time.Duration
	workers    int
	pageSize   int
	now        func() time.Time
}

// New creates a Scheduler. Ticks never overlap: a tick waits for its
// workers before the next one starts.
func New(repo Candidates, d Dispatcher, log *zap.Logger, interval time.Duration, workers int) *Scheduler {
	return &Scheduler{
		repo:       repo,
		dispatcher: d,
		log:        log,
		interval:   interval,
		workers:    max(workers, 1),
		pageSize:   500,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the wall clock, for simulated-time runs.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run starts the loop until ctx is canceled. The first tick runs at once.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Duration("interval", s.interval), zap.Int("workers", s.workers))
	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one scheduling cycle: page through candidates, keep the
// due ones and dispatch them on the bounded worker pool.
func (s *Scheduler) RunOnce(ctx context.Context) Stats {
	now := s.now()
	var (
		st      Stats
		results = make(chan dispatch.Outcome, s.workers)
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		for o := range results {
			switch o {
			case dispatch.Sent:
				st.Sent++
			case dispatch.Skipped:
				st.Skipped++
			case dispatch.Failed, dispatch.Released:
				st.Failed++
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(s.workers)
	after := int64(0)
	scanned, due := 0, 0
	for ctx.Err() == nil {
		page, err := s.repo.ListDispatchCandidates(ctx, after, s.pageSize)
		if err != nil {
			s.log.Error("list dispatch candidates failed", zap.Error(err))
			break
		}
		if len(page) == 0 {
			break
		}
		after = page[len(page)-1].ID
		scanned += len(page)

		for i := range page {
			u := page[i]
			ok, localDate := domain.IsDue(&u, now)
			if !ok {
				continue
			}
			due++
			g.Go(func() error {
				results <- s.dispatchOne(ctx, &u, localDate, now)
				return nil
			})
		}
	}
	_ = g.Wait()
	close(results)
	<-done

	st.Scanned, st.Due = scanned, due
	if due > 0 {
		s.log.Info("tick finished",
			zap.Int("scanned", st.Scanned), zap.Int("due", st.Due),
			zap.Int("sent", st.Sent), zap.Int("skipped", st.Skipped), zap.Int("failed", st.Failed),
		)
	}
	return st
}

func (s *Scheduler) dispatchOne(ctx context.Context, u *domain.User, localDate string, now time.Time) (out dispatch.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("worker panic", zap.Int64("user_id", u.ID), zap.Any("panic", p))
			out = dispatch.Failed
		}
	}()
	res, err := s.dispatcher.Dispatch(ctx, u, localDate, now)
	if err != nil {
		s.log.Error("dispatch failed",
			zap.Int64("user_id", u.ID), zap.String("local_date", localDate), zap.Error(err))
	}
	return res.Outcome
}
