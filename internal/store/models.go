package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thedetect/UTB2/internal/domain"
)

const userColumns = `
	user_id, name, birth_date, birth_minute, birth_time_known, birth_place,
	birth_lat, birth_lon, birth_tz, natal_chart, chart_computed_at,
	delivery_minute, tz, enabled, referral_code, referred_by, referral_count,
	tier, subscription_expiry, lifetime_free, ever_paid, suspended,
	last_dispatched_date, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*domain.User, error) {
	var (
		u           domain.User
		birthDate   sql.NullString
		birthMinute sql.NullInt64
		timeKnown   int
		birthPlace  string
		birthLat    sql.NullFloat64
		birthLon    sql.NullFloat64
		birthTZ     string
		chartJSON   sql.NullString
		chartAt     sql.NullInt64
		delivery    sql.NullInt64
		enabled     int
		referredBy  sql.NullString
		tier        string
		expiry      sql.NullInt64
		lifetime    int
		everPaid    int
		suspended   int
		createdAt   int64
		updatedAt   int64
	)
	if err := s.Scan(
		&u.ID, &u.Name, &birthDate, &birthMinute, &timeKnown, &birthPlace,
		&birthLat, &birthLon, &birthTZ, &chartJSON, &chartAt,
		&delivery, &u.TZ, &enabled, &u.ReferralCode, &referredBy, &u.ReferralCount,
		&tier, &expiry, &lifetime, &everPaid, &suspended,
		&u.LastDispatchedDate, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if birthDate.Valid && birthLat.Valid && birthLon.Valid {
		d, err := time.Parse(domain.DateLayout, birthDate.String)
		if err != nil {
			return nil, fmt.Errorf("user %d birth date: %w", u.ID, err)
		}
		u.Birth = &domain.BirthData{
			Date:      d,
			Minute:    int(birthMinute.Int64),
			TimeKnown: timeKnown != 0,
			Place:     birthPlace,
			Lat:       birthLat.Float64,
			Lon:       birthLon.Float64,
			TZ:        birthTZ,
		}
	}
	if chartJSON.Valid && chartJSON.String != "" {
		if err := json.Unmarshal([]byte(chartJSON.String), &u.Chart); err != nil {
			return nil, fmt.Errorf("user %d natal chart: %w", u.ID, err)
		}
	}
	u.ChartComputedAt = fromNullInt64(chartAt)
	u.DeliveryMinute = domain.NoDeliveryTime
	if delivery.Valid {
		u.DeliveryMinute = int(delivery.Int64)
	}
	u.Enabled = enabled != 0
	u.ReferredBy = referredBy.String
	u.Tier = domain.Tier(tier)
	u.SubscriptionExpiry = fromNullInt64(expiry)
	u.LifetimeFree = lifetime != 0
	u.EverPaid = everPaid != 0
	u.Suspended = suspended != 0
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &u, nil
}

func toNullInt64(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

func fromNullInt64(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.Unix(ns.Int64, 0).UTC()
	return &t
}

// boolToInt converts a boolean to 1/0 for SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
