// Package entitlement decides which content tier a profile receives and
// whether it may receive a daily message at all.
package entitlement

import (
	"time"

	"github.com/thedetect/UTB2/internal/domain"
)

// Tier is the effective content tier of a delivery.
type Tier string

const (
	Basic    Tier = "basic"
	Extended Tier = "extended"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonLifetimeFree Reason = "lifetime_free"
	ReasonPaidActive   Reason = "paid_active"
	ReasonFree         Reason = "free"
	ReasonSuspended    Reason = "suspended"
	ReasonNoChart      Reason = "no_chart"
)

// Decision is the outcome of evaluating a profile at an instant.
type Decision struct {
	Tier      Tier
	Permitted bool
	Reason    Reason
}

// Service evaluates entitlement rules. It only reads profiles.
type Service struct{}

// New returns a Service.
func New() *Service {
	return &Service{}
}

// Evaluate applies the rules in order: lifetime-free, active paid term, then
// the basic tier which is denied for suspended profiles and profiles without
// a natal chart.
func (s *Service) Evaluate(u *domain.User, now time.Time) Decision {
	switch {
	case u.LifetimeFree:
		return Decision{Tier: Extended, Permitted: true, Reason: ReasonLifetimeFree}
	case u.Tier == domain.TierPaid && u.SubscriptionExpiry != nil && u.SubscriptionExpiry.After(now):
		return Decision{Tier: Extended, Permitted: true, Reason: ReasonPaidActive}
	case u.Suspended:
		return Decision{Tier: Basic, Reason: ReasonSuspended}
	case !u.HasChart():
		return Decision{Tier: Basic, Reason: ReasonNoChart}
	}
	return Decision{Tier: Basic, Permitted: true, Reason: ReasonFree}
}
