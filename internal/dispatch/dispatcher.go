// Package dispatch runs the per-user per-date delivery state machine:
// claim, entitlement, transits, composition, delivery and commit.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thedetect/UTB2/internal/astro"
	"github.com/thedetect/UTB2/internal/delivery"
	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/entitlement"
	"github.com/thedetect/UTB2/internal/ephemeris"
	"github.com/thedetect/UTB2/internal/interpret"
	"github.com/thedetect/UTB2/internal/store"
)

// Store is the part of the profile store the dispatcher writes to.
type Store interface {
	ClaimDispatchSlot(ctx context.Context, userID int64, localDate string, now time.Time, lease time.Duration) (store.Claim, error)
	CompleteDispatch(ctx context.Context, userID int64, localDate, token string, status store.DispatchStatus, reason string, msg *store.Message) error
	ReleaseClaim(ctx context.Context, userID int64, localDate, token string) error
	LogMessage(ctx context.Context, msg store.Message) error
	ListUsers(ctx context.Context, afterID int64, limit int) ([]domain.User, error)
}

// Entitlements evaluates the content tier of a profile.
type Entitlements interface {
	Evaluate(u *domain.User, now time.Time) entitlement.Decision
}

// Transits computes active aspects for a natal chart.
type Transits interface {
	ComputeAspects(ctx context.Context, chart domain.Chart, nowUTC time.Time, orb float64) ([]astro.Aspect, error)
}

// Composer renders the message text.
type Composer interface {
	Compose(in interpret.Input) (string, error)
}

// Options tunes a Dispatcher.
type Options struct {
	Orb             float64
	Lease           time.Duration
	DeliveryTimeout time.Duration
	Retry           delivery.Backoff
}

// Outcome is the result of one dispatch attempt.
type Outcome string

const (
	Sent           Outcome = "sent"
	Skipped        Outcome = "skipped"
	AlreadyClaimed Outcome = "already_claimed"
	Released       Outcome = "released"
	Failed         Outcome = "failed"
)

// Skip reasons recorded on the claim.
const (
	ReasonNoChart         = "no_chart"
	ReasonEphemeris       = "ephemeris_unavailable"
	ReasonCompose         = "compose_failed"
	ReasonBlocked         = "blocked"
	ReasonDeliveryFailure = "delivery_failed"
)

// Result describes how a dispatch ended.
type Result struct {
	Outcome  Outcome
	Reason   string
	Attempts int // delivery attempts
}

// Dispatcher delivers the daily message of one user for one local date.
type Dispatcher struct {
	store    Store
	ent      Entitlements
	transits Transits
	composer Composer
	sink     delivery.Sink
	opts     Options
	log      *zap.Logger
	clock    func() time.Time
}

// New returns a Dispatcher.
func New(s Store, ent Entitlements, transits Transits, composer Composer, sink delivery.Sink, opts Options, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    s,
		ent:      ent,
		transits: transits,
		composer: composer,
		sink:     sink,
		opts:     opts,
		log:      log,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// slot is a claim held by this dispatcher.
type slot struct {
	userID     int64
	localDate  string
	token      string
	leaseUntil time.Time
}

// Dispatch claims (user, localDate) and runs the delivery for it. The caller
// decides whether the user is due; now is the evaluation instant used for
// entitlement, transits and content. The claim lease always starts at the
// wall clock, so a late worker of a long tick cannot hold an expired lease.
// A claim held by someone else, or already final, yields AlreadyClaimed
// without side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, u *domain.User, localDate string, now time.Time) (res Result, err error) {
	log := d.log.With(zap.Int64("user_id", u.ID), zap.String("local_date", localDate))

	claimedAt := d.clock()
	claim, err := d.store.ClaimDispatchSlot(ctx, u.ID, localDate, claimedAt, d.opts.Lease)
	if err != nil {
		return Result{Outcome: Failed}, err
	}
	if claim.Result == store.AlreadyClaimed {
		log.Debug("dispatch already claimed")
		return Result{Outcome: AlreadyClaimed}, nil
	}
	sl := slot{userID: u.ID, localDate: localDate, token: claim.Token, leaseUntil: claimedAt.Add(d.opts.Lease)}

	defer func() {
		if p := recover(); p != nil {
			log.Error("dispatch panic", zap.Any("panic", p), zap.Stack("stack"))
			d.release(ctx, log, sl)
			res, err = Result{Outcome: Failed}, fmt.Errorf("dispatch panic: %v", p)
		}
	}()

	return d.run(ctx, log, u, sl, now)
}

func (d *Dispatcher) run(ctx context.Context, log *zap.Logger, u *domain.User, sl slot, now time.Time) (Result, error) {
	decision := d.ent.Evaluate(u, now)
	if !decision.Permitted {
		log.Info("dispatch not permitted", zap.String("reason", string(decision.Reason)))
		return d.skip(ctx, log, sl, string(decision.Reason), 0)
	}
	if !u.HasChart() {
		return d.skip(ctx, log, sl, ReasonNoChart, 0)
	}

	var aspects []astro.Aspect
	_, err := d.opts.Retry.Do(ctx, ephemerisTransient, func(ctx context.Context) error {
		var err error
		aspects, err = d.transits.ComputeAspects(ctx, u.Chart, now, d.opts.Orb)
		return err
	})
	if ctx.Err() != nil {
		return d.cancelled(ctx, log, sl)
	}
	if err != nil {
		log.Error("transit calculation failed", zap.Error(err))
		return d.skip(ctx, log, sl, ReasonEphemeris, 0)
	}

	date, _ := time.Parse(domain.DateLayout, sl.localDate)
	text, err := d.composer.Compose(interpret.Input{
		Name:    u.DisplayName(),
		Aspects: aspects,
		Tier:    decision.Tier,
		Date:    date,
		Seed:    u.ID,
	})
	if err != nil {
		if !errors.Is(err, interpret.ErrMissingInterpretation) {
			log.Error("compose failed", zap.Error(err))
			return d.skip(ctx, log, sl, ReasonCompose, 0)
		}
		log.Warn("interpretation fallback used", zap.Error(err))
	}

	attempts, err := d.deliver(ctx, sl, text)
	if err != nil {
		if ctx.Err() != nil {
			return d.cancelled(ctx, log, sl)
		}
		reason := ReasonDeliveryFailure
		if delivery.Classify(err) == delivery.Blocked {
			reason = ReasonBlocked
		}
		log.Warn("delivery failed", zap.Error(err), zap.Int("attempts", attempts))
		return d.skip(ctx, log, sl, reason, attempts)
	}

	// The message is out: commit even when ctx was canceled meanwhile.
	cctx, cancel := detached(ctx)
	defer cancel()
	msg := &store.Message{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		LocalDate: sl.localDate,
		Kind:      store.KindDaily,
		SentAt:    d.clock(),
		Content:   text,
	}
	if err := d.store.CompleteDispatch(cctx, u.ID, sl.localDate, sl.token, store.StatusSent, "", msg); err != nil {
		// The claim stays held and is retried after the lease expires.
		log.Error("commit after send failed, duplicate possible", zap.Error(err))
		return Result{Outcome: Failed, Attempts: attempts}, err
	}
	log.Info("daily message sent",
		zap.String("tier", string(decision.Tier)),
		zap.Int("aspects", len(aspects)),
		zap.Int("attempts", attempts),
	)
	return Result{Outcome: Sent, Attempts: attempts}, nil
}

// deliver sends text with retries. No attempt starts so late that it could
// outlive the claim lease.
func (d *Dispatcher) deliver(ctx context.Context, sl slot, text string) (int, error) {
	if d.opts.Lease > d.opts.DeliveryTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, sl.leaseUntil.Add(-d.opts.DeliveryTimeout))
		defer cancel()
	}
	return delivery.SendWithRetry(ctx, d.sink, d.opts.Retry, d.opts.DeliveryTimeout, sl.userID, text)
}

func (d *Dispatcher) skip(ctx context.Context, log *zap.Logger, sl slot, reason string, attempts int) (Result, error) {
	if err := d.store.CompleteDispatch(ctx, sl.userID, sl.localDate, sl.token, store.StatusSkipped, reason, nil); err != nil {
		log.Error("commit skip failed", zap.Error(err), zap.String("reason", reason))
		return Result{Outcome: Failed, Reason: reason, Attempts: attempts}, err
	}
	log.Info("dispatch skipped", zap.String("reason", reason))
	return Result{Outcome: Skipped, Reason: reason, Attempts: attempts}, nil
}

func (d *Dispatcher) cancelled(ctx context.Context, log *zap.Logger, sl slot) (Result, error) {
	d.release(ctx, log, sl)
	return Result{Outcome: Released}, ctx.Err()
}

// release frees the claim on a context detached from cancellation.
func (d *Dispatcher) release(ctx context.Context, log *zap.Logger, sl slot) {
	rctx, cancel := detached(ctx)
	defer cancel()
	if err := d.store.ReleaseClaim(rctx, sl.userID, sl.localDate, sl.token); err != nil {
		log.Error("release claim failed", zap.Error(err))
		return
	}
	log.Info("dispatch claim released")
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func ephemerisTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ephemeris.ErrUnsupportedTimeRange),
		errors.Is(err, ephemeris.ErrUnknownBody):
		return false
	}
	return true
}
