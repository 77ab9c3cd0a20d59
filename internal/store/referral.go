package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thedetect/UTB2/internal/domain"
)

// RedeemReferral records that referredID joined through code. The
// referred-by edge is set once, self referral is rejected, and the
// referrer's count grows by one per edge. It returns the updated referrer.
func (r *SQLiteRepo) RedeemReferral(ctx context.Context, referredID int64, code string, now time.Time) (*domain.User, error) {
	var referrerID int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT user_id FROM users WHERE referral_code = ?`, code).Scan(&referrerID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("referral code %q: %w", code, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if referrerID == referredID {
			return ErrSelfReferral
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE users SET referred_by = ?, updated_at = ?
			WHERE user_id = ? AND referred_by IS NULL`,
			code, now.UTC().Unix(), referredID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrAlreadyReferred
		}

		res, err = tx.ExecContext(ctx, `
			INSERT INTO referrals (referrer_id, referred_id, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(referred_id) DO NOTHING`,
			referrerID, referredID, now.UTC().Unix(),
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrAlreadyReferred
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE users SET referral_count = referral_count + 1, updated_at = ?
			WHERE user_id = ?`,
			now.UTC().Unix(), referrerID,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetUser(ctx, referrerID)
}

// GrantReferralReward credits the reward for one milestone. The milestone
// row is the idempotency key: a repeated grant returns false and changes
// nothing.
func (r *SQLiteRepo) GrantReferralReward(ctx context.Context, userID int64, milestone int, extend time.Duration, now time.Time) (bool, error) {
	granted := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO referral_rewards (user_id, milestone, granted_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id, milestone) DO NOTHING`,
			userID, milestone, now.UTC().Unix(),
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		if extend > 0 {
			if err := extendSubscription(ctx, tx, userID, extend, now); err != nil {
				return err
			}
		}
		granted = true
		return nil
	})
	return granted, err
}

// ReferralStats returns the number of invited users, how many of them have
// paid, and the granted rewards.
func (r *SQLiteRepo) ReferralStats(ctx context.Context, userID int64) (ReferralStats, error) {
	var s ReferralStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM referrals WHERE referrer_id = ?),
			(SELECT COUNT(*) FROM referrals rf
				JOIN users u ON u.user_id = rf.referred_id
				WHERE rf.referrer_id = ? AND u.ever_paid = 1),
			(SELECT COUNT(*) FROM referral_rewards WHERE user_id = ?)`,
		userID, userID, userID,
	).Scan(&s.Invited, &s.PaidInvited, &s.Rewards)
	return s, err
}

// extendSubscription moves the expiry forward by d from max(expiry, now) and
// marks the profile paid.
func extendSubscription(ctx context.Context, tx *sql.Tx, userID int64, d time.Duration, now time.Time) error {
	if d <= 0 {
		return ErrNonPositiveExtend
	}
	var expiry sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT subscription_expiry FROM users WHERE user_id = ?`, userID).Scan(&expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	base := now.UTC()
	if cur := fromNullInt64(expiry); cur != nil && cur.After(base) {
		base = *cur
	}
	next := base.Add(d)
	_, err = tx.ExecContext(ctx, `
		UPDATE users SET subscription_expiry = ?, tier = ?, updated_at = ?
		WHERE user_id = ?`,
		next.Unix(), string(domain.TierPaid), now.UTC().Unix(), userID,
	)
	return err
}
