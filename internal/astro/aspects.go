// Package astro builds natal charts and detects transit aspects against them.
package astro

import (
	"math"
	"sort"

	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/ephemeris"
)

// AspectType names an angular relationship between two longitudes.
type AspectType string

const (
	Conjunction AspectType = "conjunction"
	Opposition  AspectType = "opposition"
	Square      AspectType = "square"
	Trine       AspectType = "trine"
	Sextile     AspectType = "sextile"
)

// aspectTable is ordered by tie-break priority.
var aspectTable = []struct {
	typ   AspectType
	angle float64
}{
	{Conjunction, 0},
	{Opposition, 180},
	{Square, 90},
	{Trine, 120},
	{Sextile, 60},
}

// AspectTypes lists all aspect types in priority order.
func AspectTypes() []AspectType {
	out := make([]AspectType, len(aspectTable))
	for i, a := range aspectTable {
		out[i] = a.typ
	}
	return out
}

func aspectPriority(t AspectType) int {
	for i, a := range aspectTable {
		if a.typ == t {
			return i
		}
	}
	return len(aspectTable)
}

// Pair is an unordered pair of bodies in canonical (priority) order.
type Pair struct {
	A, B ephemeris.Body
}

// NewPair returns the canonical pair for x and y.
func NewPair(x, y ephemeris.Body) Pair {
	if ephemeris.Priority(y) < ephemeris.Priority(x) {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Aspect is an active aspect between a transiting body and a natal body.
type Aspect struct {
	Transit    ephemeris.Body
	Natal      ephemeris.Body
	Type       AspectType
	Separation float64 // degrees in [0, 180]
	Orb        float64 // deviation from the exact angle, degrees
	Exactness  float64 // tolerance minus deviation, higher is more exact
}

// Pair returns the canonical body pair of the aspect.
func (a Aspect) Pair() Pair {
	return NewPair(a.Transit, a.Natal)
}

// Separation returns the angular distance between two longitudes in [0, 180].
func Separation(a, b float64) float64 {
	d := math.Abs(math.Mod(a-b, 360))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Classify returns the aspect formed by longitudes a and b within orb, and the
// deviation from its exact angle. It is symmetric in a and b.
func Classify(a, b, orb float64) (AspectType, float64, bool) {
	sep := Separation(a, b)
	var (
		best    AspectType
		bestDev = math.Inf(1)
	)
	for _, asp := range aspectTable {
		dev := math.Abs(sep - asp.angle)
		if dev <= orb && dev < bestDev {
			best, bestDev = asp.typ, dev
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestDev, true
}

// FindAspects compares current positions against natal longitudes for every
// (transit, natal) combination of the given bodies and returns the active
// aspects, most exact first. Ties are broken by aspect priority, then transit
// body priority, then natal body priority, so the output is reproducible.
func FindAspects(natal domain.Chart, transit map[ephemeris.Body]ephemeris.Position, bodies []ephemeris.Body, orb float64) []Aspect {
	var out []Aspect
	for _, tb := range bodies {
		tp, ok := transit[tb]
		if !ok {
			continue
		}
		for _, nb := range bodies {
			nl, ok := natal[string(nb)]
			if !ok {
				continue
			}
			typ, dev, ok := Classify(tp.Longitude, nl, orb)
			if !ok {
				continue
			}
			out = append(out, Aspect{
				Transit:    tb,
				Natal:      nb,
				Type:       typ,
				Separation: Separation(tp.Longitude, nl),
				Orb:        dev,
				Exactness:  orb - dev,
			})
		}
	}
	sortAspects(out)
	return out
}

func sortAspects(as []Aspect) {
	sort.SliceStable(as, func(i, j int) bool {
		a, b := as[i], as[j]
		if a.Exactness != b.Exactness {
			return a.Exactness > b.Exactness
		}
		if pa, pb := aspectPriority(a.Type), aspectPriority(b.Type); pa != pb {
			return pa < pb
		}
		if pa, pb := ephemeris.Priority(a.Transit), ephemeris.Priority(b.Transit); pa != pb {
			return pa < pb
		}
		return ephemeris.Priority(a.Natal) < ephemeris.Priority(b.Natal)
	})
}
