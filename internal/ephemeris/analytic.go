package ephemeris

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Supported range of the mean orbital elements.
var (
	minInstant = time.Date(1800, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxInstant = time.Date(2050, time.December, 31, 23, 59, 59, 0, time.UTC)
)

const (
	j2000JD        = 2451545.0
	unixEpochJD    = 2440587.5
	daysPerCentury = 36525.0
	deg            = math.Pi / 180
	// General precession in longitude, degrees per Julian century.
	precessionRate = 1.396971
)

// Analytic computes low-precision positions from mean orbital elements
// (planets), a truncated lunar theory and the solar equation of centre.
// Accuracy is a fraction of a degree, well inside aspect orbs.
// The observer location is accepted for interface compatibility; all
// positions are geocentric.
type Analytic struct{}

// NewAnalytic returns the built-in provider.
func NewAnalytic() *Analytic { return &Analytic{} }

// Positions implements Provider.
func (a *Analytic) Positions(ctx context.Context, at time.Time, bodies []Body, _ *Location) (map[Body]Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if at.Before(minInstant) || at.After(maxInstant) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTimeRange, at.UTC().Format(time.RFC3339))
	}
	jd := julianDay(at)
	out := make(map[Body]Position, len(bodies))
	for _, b := range bodies {
		pos, err := position(b, jd)
		if err != nil {
			return nil, err
		}
		out[b] = pos
	}
	return out, nil
}

func julianDay(t time.Time) float64 {
	return unixEpochJD + float64(t.UTC().UnixNano())/float64(24*time.Hour)
}

// position evaluates a body at jd and estimates speed by central difference.
func position(b Body, jd float64) (Position, error) {
	lon, lat, err := eclipticOfDate(b, jd)
	if err != nil {
		return Position{}, err
	}
	const h = 0.5 // days
	before, _, _ := eclipticOfDate(b, jd-h)
	after, _, _ := eclipticOfDate(b, jd+h)
	speed := normalizeSigned(after-before) / (2 * h)
	return Position{Longitude: lon, Latitude: lat, Speed: speed}, nil
}

func eclipticOfDate(b Body, jd float64) (lon, lat float64, err error) {
	switch b {
	case Sun:
		return sunLongitude(jd), 0, nil
	case Moon:
		lon, lat = moonPosition(jd)
		return lon, lat, nil
	}
	el, ok := planets[b]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownBody, b)
	}
	T := (jd - j2000JD) / daysPerCentury
	px, py, pz := el.heliocentric(T)
	ex, ey, ez := earthBary.heliocentric(T)
	x, y, z := px-ex, py-ey, pz-ez
	lon = math.Atan2(y, x)/deg + precessionRate*T
	lat = math.Atan2(z, math.Hypot(x, y)) / deg
	return Normalize(lon), lat, nil
}

// sunLongitude is the apparent geometric longitude of the Sun of date.
func sunLongitude(jd float64) float64 {
	d := jd - j2000JD
	g := Normalize(357.529+0.98560028*d) * deg
	q := 280.459 + 0.98564736*d
	return Normalize(q + 1.915*math.Sin(g) + 0.020*math.Sin(2*g))
}

// moonPosition uses the largest periodic terms of the lunar theory.
func moonPosition(jd float64) (lon, lat float64) {
	d := jd - j2000JD
	L := 218.316 + 13.176396*d
	Mm := Normalize(134.963+13.064993*d) * deg
	Ms := Normalize(357.529+0.98560028*d) * deg
	D := Normalize(297.850+12.190749*d) * deg
	F := Normalize(93.272+13.229350*d) * deg

	lon = L +
		6.289*math.Sin(Mm) -
		1.274*math.Sin(Mm-2*D) +
		0.658*math.Sin(2*D) -
		0.186*math.Sin(Ms) -
		0.059*math.Sin(2*Mm-2*D) -
		0.057*math.Sin(Mm-2*D+Ms) +
		0.053*math.Sin(Mm+2*D) +
		0.046*math.Sin(2*D-Ms) +
		0.041*math.Sin(Mm-Ms) -
		0.035*math.Sin(D) -
		0.031*math.Sin(Mm+Ms)
	lat = 5.128*math.Sin(F) +
		0.281*math.Sin(Mm+F) +
		0.278*math.Sin(Mm-F) +
		0.173*math.Sin(2*D-F)
	return Normalize(lon), lat
}

// Normalize maps an angle in degrees to [0, 360).
func Normalize(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}

// normalizeSigned maps an angle difference to (-180, 180].
func normalizeSigned(a float64) float64 {
	a = Normalize(a)
	if a > 180 {
		a -= 360
	}
	return a
}
