package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thedetect/UTB2/internal/delivery"
	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/entitlement"
	"github.com/thedetect/UTB2/internal/store"
)

// Target selects the recipients of a broadcast by effective tier.
type Target string

const (
	TargetAll  Target = "all"
	TargetFree Target = "free"
	TargetPaid Target = "paid"
)

// ParseTarget accepts all, free or paid; empty means all.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TargetAll, nil
	case TargetAll, TargetFree, TargetPaid:
		return t, nil
	}
	return "", fmt.Errorf("unknown broadcast target %q", s)
}

func (t Target) matches(d entitlement.Decision) bool {
	switch t {
	case TargetFree:
		return d.Tier == entitlement.Basic
	case TargetPaid:
		return d.Tier == entitlement.Extended
	}
	return true
}

// BroadcastRequest is an operator-triggered send. With UseDaily the regular
// daily message is sent through the per-date claim regardless of the
// delivery time; otherwise Text is sent and the day is not consumed.
type BroadcastRequest struct {
	Text     string
	UseDaily bool
	Target   Target
}

// BroadcastReport counts per-recipient outcomes.
type BroadcastReport struct {
	RunID   string
	Sent    int
	Skipped int
	Failed  int
}

// Broadcaster fans a request out to matching profiles.
type Broadcaster struct {
	store      Store
	dispatcher *Dispatcher
	workers    int
	pageSize   int
	now        func() time.Time
	log        *zap.Logger
}

// NewBroadcaster returns a Broadcaster that runs at most workers sends at once.
func NewBroadcaster(s Store, d *Dispatcher, workers int, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		store:      s,
		dispatcher: d,
		workers:    max(workers, 1),
		pageSize:   200,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// Broadcast sends req to every matching profile and waits for completion.
func (b *Broadcaster) Broadcast(ctx context.Context, req BroadcastRequest) (BroadcastReport, error) {
	if !req.UseDaily && strings.TrimSpace(req.Text) == "" {
		return BroadcastReport{}, fmt.Errorf("broadcast: empty text")
	}
	if req.Target == "" {
		req.Target = TargetAll
	}
	rep := BroadcastReport{RunID: uuid.NewString()}
	log := b.log.With(zap.String("run_id", rep.RunID), zap.String("target", string(req.Target)), zap.Bool("daily", req.UseDaily))
	log.Info("broadcast started")

	var sent, skipped, failed atomic.Int64
	count := func(o Outcome) {
		switch o {
		case Sent:
			sent.Add(1)
		case Skipped, AlreadyClaimed:
			skipped.Add(1)
		default:
			failed.Add(1)
		}
	}

	var g errgroup.Group
	g.SetLimit(b.workers)
	now := b.now()
	after := int64(0)
	var listErr error
	for ctx.Err() == nil {
		page, err := b.store.ListUsers(ctx, after, b.pageSize)
		if err != nil {
			listErr = fmt.Errorf("list users: %w", err)
			break
		}
		if len(page) == 0 {
			break
		}
		after = page[len(page)-1].ID
		for i := range page {
			u := page[i]
			decision := b.dispatcher.ent.Evaluate(&u, now)
			if !req.Target.matches(decision) {
				continue
			}
			g.Go(func() error {
				count(b.one(ctx, log, &u, decision, req, now))
				return nil
			})
		}
	}
	_ = g.Wait()

	rep.Sent, rep.Skipped, rep.Failed = int(sent.Load()), int(skipped.Load()), int(failed.Load())
	log.Info("broadcast finished", zap.Int("sent", rep.Sent), zap.Int("skipped", rep.Skipped), zap.Int("failed", rep.Failed))
	if listErr != nil {
		return rep, listErr
	}
	return rep, ctx.Err()
}

func (b *Broadcaster) one(ctx context.Context, log *zap.Logger, u *domain.User, decision entitlement.Decision, req BroadcastRequest, now time.Time) (out Outcome) {
	log = log.With(zap.Int64("user_id", u.ID))
	defer func() {
		if p := recover(); p != nil {
			log.Error("broadcast panic", zap.Any("panic", p))
			out = Failed
		}
	}()

	if req.UseDaily {
		res, err := b.dispatcher.Dispatch(ctx, u, domain.LocalDate(now, u.TZ), now)
		if err != nil {
			log.Warn("broadcast dispatch failed", zap.Error(err))
		}
		return res.Outcome
	}

	if !decision.Permitted {
		return Skipped
	}
	opts := b.dispatcher.opts
	if _, err := delivery.SendWithRetry(ctx, b.dispatcher.sink, opts.Retry, opts.DeliveryTimeout, u.ID, req.Text); err != nil {
		log.Warn("broadcast delivery failed", zap.Error(err), zap.String("reason", string(delivery.Classify(err))))
		if delivery.Classify(err) == delivery.Blocked {
			return Skipped
		}
		return Failed
	}
	if err := b.store.LogMessage(ctx, store.Message{
		ID:      uuid.NewString(),
		UserID:  u.ID,
		Kind:    store.KindBroadcast,
		SentAt:  now,
		Content: req.Text,
	}); err != nil {
		log.Error("log broadcast message failed", zap.Error(err))
	}
	return Sent
}
