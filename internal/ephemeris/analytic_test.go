package ephemeris

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func angularDistance(a, b float64) float64 {
	return math.Abs(normalizeSigned(a - b))
}

func mustPositions(t *testing.T, at time.Time, bodies ...Body) map[Body]Position {
	t.Helper()
	got, err := NewAnalytic().Positions(context.Background(), at, bodies, nil)
	if err != nil {
		t.Fatalf("positions at %s: %v", at, err)
	}
	return got
}

func TestAnalytic_SunAtKnownInstants(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want float64
	}{
		{name: "J2000", at: time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC), want: 280.37},
		{name: "march equinox 2025", at: time.Date(2025, time.March, 20, 9, 1, 0, 0, time.UTC), want: 0},
		{name: "june solstice 2024", at: time.Date(2024, time.June, 20, 20, 51, 0, 0, time.UTC), want: 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustPositions(t, tt.at, Sun)[Sun]
			if d := angularDistance(got.Longitude, tt.want); d > 0.2 {
				t.Fatalf("sun longitude %.3f, want %.3f (off by %.3f)", got.Longitude, tt.want, d)
			}
			if got.Speed < 0.9 || got.Speed > 1.1 {
				t.Fatalf("sun speed %.3f deg/day out of range", got.Speed)
			}
		})
	}
}

func TestAnalytic_GreatConjunction2020(t *testing.T) {
	got := mustPositions(t, time.Date(2020, time.December, 21, 18, 0, 0, 0, time.UTC), Jupiter, Saturn)
	if d := angularDistance(got[Jupiter].Longitude, got[Saturn].Longitude); d > 1 {
		t.Fatalf("jupiter/saturn separation %.2f, want < 1", d)
	}
	if d := angularDistance(got[Jupiter].Longitude, 300.3); d > 1.5 {
		t.Fatalf("jupiter longitude %.2f, want ~300.3", got[Jupiter].Longitude)
	}
}

func TestAnalytic_MercuryRetrograde(t *testing.T) {
	got := mustPositions(t, time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC), Mercury)
	if got[Mercury].Speed >= 0 {
		t.Fatalf("mercury speed %.3f, expected retrograde", got[Mercury].Speed)
	}
}

func TestAnalytic_MoonMovesFast(t *testing.T) {
	got := mustPositions(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), Moon)[Moon]
	if got.Speed < 11 || got.Speed > 16 {
		t.Fatalf("moon speed %.3f deg/day out of range", got.Speed)
	}
	if math.Abs(got.Latitude) > 5.4 {
		t.Fatalf("moon latitude %.3f out of range", got.Latitude)
	}
}

func TestAnalytic_LongitudesNormalized(t *testing.T) {
	at := time.Date(1985, time.July, 4, 3, 0, 0, 0, time.UTC)
	for body, pos := range mustPositions(t, at, All...) {
		if pos.Longitude < 0 || pos.Longitude >= 360 {
			t.Fatalf("%s longitude %.3f not in [0,360)", body, pos.Longitude)
		}
	}
}

func TestAnalytic_Errors(t *testing.T) {
	a := NewAnalytic()
	_, err := a.Positions(context.Background(), time.Date(1700, time.January, 1, 0, 0, 0, 0, time.UTC), []Body{Sun}, nil)
	if !errors.Is(err, ErrUnsupportedTimeRange) {
		t.Fatalf("want ErrUnsupportedTimeRange, got %v", err)
	}
	_, err = a.Positions(context.Background(), time.Now(), []Body{"Chiron"}, nil)
	if !errors.Is(err, ErrUnknownBody) {
		t.Fatalf("want ErrUnknownBody, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Positions(ctx, time.Now(), []Body{Sun}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestParseBodies(t *testing.T) {
	got, err := ParseBodies([]string{"sun", " Moon", "SATURN", "Sun"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Body{Sun, Moon, Saturn}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if _, err := ParseBodies([]string{"Lilith"}); !errors.Is(err, ErrUnknownBody) {
		t.Fatalf("want ErrUnknownBody, got %v", err)
	}
}
