package astro

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/ephemeris"
)

var (
	// ErrEphemerisUnavailable means the provider cannot resolve the birth instant or bodies.
	ErrEphemerisUnavailable = errors.New("ephemeris unavailable")
	// ErrInvalidBirthLocation means the birth coordinates or timezone are out of range.
	ErrInvalidBirthLocation = errors.New("invalid birth location")
)

// IsInputError reports whether err is a terminal chart input error that must
// be corrected by the user rather than retried.
func IsInputError(err error) bool {
	return errors.Is(err, ErrEphemerisUnavailable) || errors.Is(err, ErrInvalidBirthLocation)
}

// BuildChart computes natal longitudes of bodies at the birth instant.
func BuildChart(ctx context.Context, p ephemeris.Provider, birthUTC time.Time, loc ephemeris.Location, bodies []ephemeris.Body) (domain.Chart, error) {
	if !validCoordinate(loc.Lat, 90) || !validCoordinate(loc.Lon, 180) {
		return nil, fmt.Errorf("%w: lat=%g lon=%g", ErrInvalidBirthLocation, loc.Lat, loc.Lon)
	}
	positions, err := p.Positions(ctx, birthUTC, bodies, &loc)
	if err != nil {
		if errors.Is(err, ephemeris.ErrUnsupportedTimeRange) || errors.Is(err, ephemeris.ErrUnknownBody) {
			return nil, fmt.Errorf("%w: %w", ErrEphemerisUnavailable, err)
		}
		return nil, fmt.Errorf("natal positions: %w", err)
	}
	chart := make(domain.Chart, len(bodies))
	for _, b := range bodies {
		pos, ok := positions[b]
		if !ok {
			return nil, fmt.Errorf("%w: no position for %s", ErrEphemerisUnavailable, b)
		}
		chart[string(b)] = pos.Longitude
	}
	return chart, nil
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && v >= -limit && v <= limit
}
