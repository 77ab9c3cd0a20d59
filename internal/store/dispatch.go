package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClaimDispatchSlot takes the exclusive per-user per-date dispatch claim.
// A claim still in status claimed whose lease has expired is taken over;
// sent and skipped claims are final. Every successful claim gets a fresh
// token, so a holder that was taken over can no longer complete or release.
func (r *SQLiteRepo) ClaimDispatchSlot(ctx context.Context, userID int64, localDate string, now time.Time, lease time.Duration) (Claim, error) {
	nowUnix := now.UTC().Unix()
	token := uuid.NewString()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dispatch_claims (user_id, local_date, status, attempts, lease_until, token, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(user_id, local_date) DO UPDATE SET
			attempts    = dispatch_claims.attempts + 1,
			lease_until = excluded.lease_until,
			token       = excluded.token,
			updated_at  = excluded.updated_at
		WHERE dispatch_claims.status = ? AND dispatch_claims.lease_until <= ?`,
		userID, localDate, string(StatusClaimed), now.Add(lease).UTC().Unix(), token, nowUnix,
		string(StatusClaimed), nowUnix,
	)
	if err != nil {
		return Claim{}, fmt.Errorf("claim %d/%s: %w", userID, localDate, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Claim{}, err
	}
	if n == 0 {
		return Claim{Result: AlreadyClaimed}, nil
	}
	return Claim{Result: Claimed, Token: token}, nil
}

// CompleteDispatch finalizes the claim held under token. In one transaction
// it records the final status, advances last_dispatched_date (never
// backward) and, when msg is not nil, appends it to the delivery log.
// ErrClaimLost means the claim is final or held under another token.
func (r *SQLiteRepo) CompleteDispatch(ctx context.Context, userID int64, localDate, token string, status DispatchStatus, reason string, msg *Message) error {
	if status != StatusSent && status != StatusSkipped {
		return fmt.Errorf("complete dispatch: invalid status %q", status)
	}
	now := r.now().Unix()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE dispatch_claims
			SET status = ?, reason = ?, updated_at = ?
			WHERE user_id = ? AND local_date = ? AND status = ? AND token = ?`,
			string(status), reason, now, userID, localDate, string(StatusClaimed), token,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("complete %d/%s: %w", userID, localDate, ErrClaimLost)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE users
			SET last_dispatched_date = MAX(last_dispatched_date, ?), updated_at = ?
			WHERE user_id = ?`,
			localDate, now, userID,
		); err != nil {
			return err
		}

		if msg != nil {
			return insertMessage(ctx, tx, *msg)
		}
		return nil
	})
}

// ReleaseClaim drops the in-flight claim held under token so it can be
// retried. A claim taken over by another holder is left alone.
func (r *SQLiteRepo) ReleaseClaim(ctx context.Context, userID int64, localDate, token string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM dispatch_claims
		WHERE user_id = ? AND local_date = ? AND status = ? AND token = ?`,
		userID, localDate, string(StatusClaimed), token,
	)
	return err
}

// DispatchState returns the claim status and attempts for a user and date.
func (r *SQLiteRepo) DispatchState(ctx context.Context, userID int64, localDate string) (DispatchStatus, int, error) {
	var (
		status   string
		attempts int
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT status, attempts FROM dispatch_claims
		WHERE user_id = ? AND local_date = ?`,
		userID, localDate,
	).Scan(&status, &attempts)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("claim %d/%s: %w", userID, localDate, ErrNotFound)
	}
	return DispatchStatus(status), attempts, err
}

// LogMessage appends a message outside of a dispatch claim.
func (r *SQLiteRepo) LogMessage(ctx context.Context, msg Message) error {
	return insertMessage(ctx, r.db, msg)
}

// CountMessages returns how many messages of a kind were logged for a user.
func (r *SQLiteRepo) CountMessages(ctx context.Context, userID int64, kind string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE user_id = ? AND kind = ?`, userID, kind,
	).Scan(&n)
	return n, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, msg Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, user_id, local_date, kind, sent_at, content)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, msg.LocalDate, msg.Kind, msg.SentAt.UTC().Unix(), msg.Content,
	)
	if err != nil {
		return fmt.Errorf("log message: %w", err)
	}
	return nil
}
