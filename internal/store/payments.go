package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ApplyPayment records a confirmed payment and extends the subscription by
// extend. A charge id that was already applied returns ErrDuplicatePayment.
func (r *SQLiteRepo) ApplyPayment(ctx context.Context, p Payment, extend time.Duration) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payments (charge_id, user_id, amount, currency, paid_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(charge_id) DO NOTHING`,
			p.ChargeID, p.UserID, p.Amount, p.Currency, p.PaidAt.UTC().Unix(),
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("charge %s: %w", p.ChargeID, ErrDuplicatePayment)
		}
		if err := extendSubscription(ctx, tx, p.UserID, extend, p.PaidAt); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET ever_paid = 1 WHERE user_id = ?`, p.UserID)
		return err
	})
}
