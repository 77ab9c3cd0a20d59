package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/thedetect/UTB2/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer: every statement and transaction shares one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// inTx runs fn in a transaction. Statements inside fn must use tx: the pool
// has a single connection.
func (r *SQLiteRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// EnsureUser creates the profile on first interaction with the free tier,
// the given timezone and an immutable referral code. It reports whether the
// profile was created.
func (r *SQLiteRepo) EnsureUser(ctx context.Context, userID int64, tz string, now time.Time) (*domain.User, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (user_id, tz, referral_code, tier, created_at, updated_at)
		VALUES (?, ?, 'u' || ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, tz, userID, string(domain.TierFree), now.UTC().Unix(), now.UTC().Unix(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return u, n == 1, nil
}

// GetUser returns a profile by id or ErrNotFound.
func (r *SQLiteRepo) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return u, err
}

// GetUserByReferralCode returns the owner of a referral code or ErrNotFound.
func (r *SQLiteRepo) GetUserByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = ?`, code)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("referral code %q: %w", code, ErrNotFound)
	}
	return u, err
}

// ListDispatchCandidates returns up to limit enabled profiles with a delivery
// time, ordered by id and starting after afterID.
func (r *SQLiteRepo) ListDispatchCandidates(ctx context.Context, afterID int64, limit int) ([]domain.User, error) {
	return r.listUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE enabled = 1 AND delivery_minute IS NOT NULL AND user_id > ?
		ORDER BY user_id
		LIMIT ?`, afterID, limit)
}

// ListUsers returns up to limit profiles ordered by id, starting after afterID.
func (r *SQLiteRepo) ListUsers(ctx context.Context, afterID int64, limit int) ([]domain.User, error) {
	return r.listUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE user_id > ?
		ORDER BY user_id
		LIMIT ?`, afterID, limit)
}

func (r *SQLiteRepo) listUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *SQLiteRepo) update(ctx context.Context, userID int64, set string, args ...any) error {
	args = append(args, r.now().Unix(), userID)
	res, err := r.db.ExecContext(ctx, `UPDATE users SET `+set+`, updated_at = ? WHERE user_id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// SetName stores the display name.
func (r *SQLiteRepo) SetName(ctx context.Context, userID int64, name string) error {
	return r.update(ctx, userID, `name = ?`, name)
}

// SaveBirthData replaces the natal input together with the chart computed
// from it.
func (r *SQLiteRepo) SaveBirthData(ctx context.Context, userID int64, b domain.BirthData, chart domain.Chart, at time.Time) error {
	raw, err := json.Marshal(chart)
	if err != nil {
		return fmt.Errorf("encode chart: %w", err)
	}
	return r.update(ctx, userID, `
		birth_date = ?, birth_minute = ?, birth_time_known = ?, birth_place = ?,
		birth_lat = ?, birth_lon = ?, birth_tz = ?,
		natal_chart = ?, chart_computed_at = ?`,
		b.Date.Format(domain.DateLayout), b.Minute, boolToInt(b.TimeKnown), b.Place,
		b.Lat, b.Lon, b.TZ, string(raw), at.UTC().Unix(),
	)
}

// SetDeliveryTime stores the daily delivery minute; NoDeliveryTime clears it.
func (r *SQLiteRepo) SetDeliveryTime(ctx context.Context, userID int64, minute int) error {
	v := sql.NullInt64{Int64: int64(minute), Valid: minute >= 0}
	return r.update(ctx, userID, `delivery_minute = ?`, v)
}

// SetTimezone changes the zone used for scheduling.
func (r *SQLiteRepo) SetTimezone(ctx context.Context, userID int64, tz string) error {
	return r.update(ctx, userID, `tz = ?`, tz)
}

// SetEnabled toggles daily delivery.
func (r *SQLiteRepo) SetEnabled(ctx context.Context, userID int64, enabled bool) error {
	return r.update(ctx, userID, `enabled = ?`, boolToInt(enabled))
}

// SetSuspended sets the abuse flag.
func (r *SQLiteRepo) SetSuspended(ctx context.Context, userID int64, suspended bool) error {
	return r.update(ctx, userID, `suspended = ?`, boolToInt(suspended))
}

// SetLifetimeFree sets the lifetime-free flag.
func (r *SQLiteRepo) SetLifetimeFree(ctx context.Context, userID int64, lifetime bool) error {
	return r.update(ctx, userID, `lifetime_free = ?`, boolToInt(lifetime))
}
