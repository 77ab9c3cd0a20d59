// Package ephemeris resolves geocentric ecliptic positions of celestial bodies.
package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnsupportedTimeRange = errors.New("instant outside supported time range")
	ErrUnknownBody          = errors.New("unknown body")
)

// Body identifies a tracked celestial body.
type Body string

const (
	Sun     Body = "Sun"
	Moon    Body = "Moon"
	Mercury Body = "Mercury"
	Venus   Body = "Venus"
	Mars    Body = "Mars"
	Jupiter Body = "Jupiter"
	Saturn  Body = "Saturn"
	Uranus  Body = "Uranus"
	Neptune Body = "Neptune"
	Pluto   Body = "Pluto"
)

// All lists every supported body in priority order.
var All = []Body{Sun, Moon, Mercury, Venus, Mars, Jupiter, Saturn, Uranus, Neptune, Pluto}

// Priority returns the fixed ordering rank of a body, lower first.
func Priority(b Body) int {
	for i, x := range All {
		if x == b {
			return i
		}
	}
	return len(All)
}

// ParseBodies resolves configured body names, case-insensitively.
func ParseBodies(names []string) ([]Body, error) {
	out := make([]Body, 0, len(names))
	seen := make(map[Body]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		var found Body
		for _, b := range All {
			if strings.EqualFold(string(b), n) {
				found = b
				break
			}
		}
		if found == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBody, n)
		}
		if !seen[found] {
			seen[found] = true
			out = append(out, found)
		}
	}
	return out, nil
}

// Location is an optional observer position on Earth.
type Location struct {
	Lat float64
	Lon float64
}

// Position is a geocentric ecliptic position of date.
type Position struct {
	Longitude float64 // degrees, [0, 360)
	Latitude  float64 // degrees
	Speed     float64 // degrees per day, negative when retrograde
}

// Provider returns body positions for an instant. Implementations must be
// safe for concurrent use.
type Provider interface {
	Positions(ctx context.Context, at time.Time, bodies []Body, observer *Location) (map[Body]Position, error)
}
