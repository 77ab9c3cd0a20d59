package store

import (
	"context"
	"errors"
	"time"

	"github.com/thedetect/UTB2/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSelfReferral      = errors.New("self referral")
	ErrAlreadyReferred   = errors.New("referrer already set")
	ErrClaimLost         = errors.New("dispatch claim not held")
	ErrDuplicatePayment  = errors.New("payment already applied")
	ErrNonPositiveExtend = errors.New("subscription extension must be positive")
)

// ClaimResult is the outcome of ClaimDispatchSlot.
type ClaimResult int

const (
	AlreadyClaimed ClaimResult = iota
	Claimed
)

// Claim is a dispatch claim attempt. Token is set only when Result is
// Claimed and identifies the holder for CompleteDispatch and ReleaseClaim.
type Claim struct {
	Result ClaimResult
	Token  string
}

// DispatchStatus is the final state of a per-user per-date claim.
type DispatchStatus string

const (
	StatusClaimed DispatchStatus = "claimed"
	StatusSent    DispatchStatus = "sent"
	StatusSkipped DispatchStatus = "skipped"
)

// Message kinds in the delivery log.
const (
	KindDaily     = "daily"
	KindBroadcast = "broadcast"
)

// Message is one delivered message.
type Message struct {
	ID        string
	UserID    int64
	LocalDate string
	Kind      string
	SentAt    time.Time
	Content   string
}

// Payment is a confirmed payment, unique by ChargeID.
type Payment struct {
	ChargeID string
	UserID   int64
	Amount   int
	Currency string
	PaidAt   time.Time
}

// ReferralStats summarizes a user's referrals.
type ReferralStats struct {
	Invited     int
	PaidInvited int // invited users who have paid at least once
	Rewards     int
}

// Repo defines storage operations for profiles, dispatch claims, referrals
// and payments.
type Repo interface {
	EnsureUser(ctx context.Context, userID int64, tz string, now time.Time) (*domain.User, bool, error)
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*domain.User, error)
	ListDispatchCandidates(ctx context.Context, afterID int64, limit int) ([]domain.User, error)
	ListUsers(ctx context.Context, afterID int64, limit int) ([]domain.User, error)

	SetName(ctx context.Context, userID int64, name string) error
	SaveBirthData(ctx context.Context, userID int64, b domain.BirthData, chart domain.Chart, at time.Time) error
	SetDeliveryTime(ctx context.Context, userID int64, minute int) error
	SetTimezone(ctx context.Context, userID int64, tz string) error
	SetEnabled(ctx context.Context, userID int64, enabled bool) error
	SetSuspended(ctx context.Context, userID int64, suspended bool) error
	SetLifetimeFree(ctx context.Context, userID int64, lifetime bool) error

	ClaimDispatchSlot(ctx context.Context, userID int64, localDate string, now time.Time, lease time.Duration) (Claim, error)
	CompleteDispatch(ctx context.Context, userID int64, localDate, token string, status DispatchStatus, reason string, msg *Message) error
	ReleaseClaim(ctx context.Context, userID int64, localDate, token string) error
	LogMessage(ctx context.Context, msg Message) error

	RedeemReferral(ctx context.Context, referredID int64, code string, now time.Time) (*domain.User, error)
	GrantReferralReward(ctx context.Context, userID int64, milestone int, extend time.Duration, now time.Time) (bool, error)
	ReferralStats(ctx context.Context, userID int64) (ReferralStats, error)
	ApplyPayment(ctx context.Context, p Payment, extend time.Duration) error

	Close() error
}
