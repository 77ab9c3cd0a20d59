package astro

import (
	"context"
	"fmt"
	"time"

	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/ephemeris"
)

// Calculator binds a provider to the tracked bodies and a call timeout.
type Calculator struct {
	provider ephemeris.Provider
	bodies   []ephemeris.Body
	timeout  time.Duration
}

// NewCalculator returns a Calculator. A zero timeout disables the deadline.
func NewCalculator(p ephemeris.Provider, bodies []ephemeris.Body, timeout time.Duration) *Calculator {
	return &Calculator{provider: p, bodies: bodies, timeout: timeout}
}

// Bodies returns the tracked bodies.
func (c *Calculator) Bodies() []ephemeris.Body {
	return c.bodies
}

func (c *Calculator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// BuildChart computes the natal chart for the given birth data.
func (c *Calculator) BuildChart(ctx context.Context, b domain.BirthData) (domain.Chart, error) {
	birthUTC, err := domain.BirthInstant(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBirthLocation, err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return BuildChart(ctx, c.provider, birthUTC, ephemeris.Location{Lat: b.Lat, Lon: b.Lon}, c.bodies)
}

// ComputeAspects returns the aspects active at nowUTC between current
// positions and the natal chart, ordered most exact first.
func (c *Calculator) ComputeAspects(ctx context.Context, chart domain.Chart, nowUTC time.Time, orb float64) ([]Aspect, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	transit, err := c.provider.Positions(ctx, nowUTC, c.bodies, nil)
	if err != nil {
		return nil, fmt.Errorf("transit positions: %w", err)
	}
	return FindAspects(chart, transit, c.bodies, orb), nil
}
