// Package referral credits referrers and exposes referral links and stats.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/store"
)

// Store is the part of the profile store used by referrals.
type Store interface {
	EnsureUser(ctx context.Context, userID int64, tz string, now time.Time) (*domain.User, bool, error)
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	RedeemReferral(ctx context.Context, referredID int64, code string, now time.Time) (*domain.User, error)
	GrantReferralReward(ctx context.Context, userID int64, milestone int, extend time.Duration, now time.Time) (bool, error)
	SetLifetimeFree(ctx context.Context, userID int64, lifetime bool) error
	ReferralStats(ctx context.Context, userID int64) (store.ReferralStats, error)
}

// Rules configures rewards. A zero Threshold disables milestone rewards and
// a zero LifetimeThreshold disables the lifetime grant.
type Rules struct {
	Threshold         int
	RewardDays        int
	LifetimeThreshold int
}

// Stats is what the menu shows.
type Stats struct {
	Code         string
	Invited      int
	PaidInvited  int
	Rewards      int
	NextRewardAt int // referrals needed for the next reward, 0 if disabled
}

// Service applies referral rules on top of the store.
type Service struct {
	store     Store
	rules     Rules
	defaultTZ string
	log       *zap.Logger
}

// New returns a Service.
func New(s Store, rules Rules, defaultTZ string, log *zap.Logger) *Service {
	return &Service{store: s, rules: rules, defaultTZ: defaultTZ, log: log}
}

// EnsureCode returns the user's referral code, creating the profile if needed.
func (s *Service) EnsureCode(ctx context.Context, userID int64) (string, error) {
	u, _, err := s.store.EnsureUser(ctx, userID, s.defaultTZ, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return u.ReferralCode, nil
}

// Redeem links referredID to the owner of code and applies any reward the
// referrer has now earned. It returns the referrer id.
func (s *Service) Redeem(ctx context.Context, referredID int64, code string, now time.Time) (int64, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, fmt.Errorf("redeem: %w", store.ErrNotFound)
	}
	ref, err := s.store.RedeemReferral(ctx, referredID, code, now)
	if err != nil {
		return 0, err
	}
	s.log.Info("referral redeemed",
		zap.Int64("user_id", referredID),
		zap.Int64("referrer_id", ref.ID),
		zap.Int("referral_count", ref.ReferralCount),
	)
	if err := s.applyRewards(ctx, ref, now); err != nil {
		return ref.ID, err
	}
	return ref.ID, nil
}

// ApplyRewards credits every reward the referrer has reached and not yet
// received. Calling it again for the same state changes nothing.
func (s *Service) ApplyRewards(ctx context.Context, referrerID int64, now time.Time) error {
	ref, err := s.store.GetUser(ctx, referrerID)
	if err != nil {
		return err
	}
	return s.applyRewards(ctx, ref, now)
}

func (s *Service) applyRewards(ctx context.Context, ref *domain.User, now time.Time) error {
	var errs []error
	if k := s.rules.Threshold; k > 0 && s.rules.RewardDays > 0 {
		extend := time.Duration(s.rules.RewardDays) * 24 * time.Hour
		for m := 1; m <= ref.ReferralCount/k; m++ {
			granted, err := s.store.GrantReferralReward(ctx, ref.ID, m, extend, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("milestone %d: %w", m, err))
				continue
			}
			if granted {
				s.log.Info("referral reward granted",
					zap.Int64("user_id", ref.ID),
					zap.Int("milestone", m),
					zap.Int("days", s.rules.RewardDays),
				)
			}
		}
	}
	if lt := s.rules.LifetimeThreshold; lt > 0 && ref.ReferralCount >= lt && !ref.LifetimeFree {
		if err := s.store.SetLifetimeFree(ctx, ref.ID, true); err != nil {
			errs = append(errs, fmt.Errorf("lifetime: %w", err))
		} else {
			s.log.Info("lifetime access granted", zap.Int64("user_id", ref.ID))
		}
	}
	return errors.Join(errs...)
}

// Stats returns the user's referral summary.
func (s *Service) Stats(ctx context.Context, userID int64) (Stats, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	rs, err := s.store.ReferralStats(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Code: u.ReferralCode, Invited: rs.Invited, PaidInvited: rs.PaidInvited, Rewards: rs.Rewards}
	if k := s.rules.Threshold; k > 0 {
		st.NextRewardAt = k - rs.Invited%k
	}
	return st, nil
}

// Link returns the deep link that starts the bot with a referral code.
func Link(botUsername, code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", strings.TrimPrefix(botUsername, "@"), code)
}
