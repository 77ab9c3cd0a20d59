// Package geo resolves birth places to coordinates and a timezone.
package geo

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thedetect/UTB2/assets"
)

var (
	ErrUnknownPlace   = errors.New("unknown place")
	ErrBadCoordinates = errors.New("invalid coordinates")
)

// Place is a resolved location.
type Place struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Lat     float64  `yaml:"lat"`
	Lon     float64  `yaml:"lon"`
	TZ      string   `yaml:"tz"`
}

// Gazetteer looks places up by name or alias, case-insensitively.
type Gazetteer struct {
	places []Place
	index  map[string]int
}

// Parse builds a Gazetteer from YAML. Every place must have valid
// coordinates and a loadable timezone.
func Parse(data []byte) (*Gazetteer, error) {
	var places []Place
	if err := yaml.Unmarshal(data, &places); err != nil {
		return nil, fmt.Errorf("decode places: %w", err)
	}
	g := &Gazetteer{places: places, index: make(map[string]int)}
	for i, p := range places {
		if err := checkCoords(p.Lat, p.Lon); err != nil {
			return nil, fmt.Errorf("place %q: %w", p.Name, err)
		}
		if _, err := time.LoadLocation(p.TZ); err != nil {
			return nil, fmt.Errorf("place %q: %w", p.Name, err)
		}
		for _, n := range append([]string{p.Name}, p.Aliases...) {
			k := normalize(n)
			if j, dup := g.index[k]; dup && j != i {
				return nil, fmt.Errorf("place name %q used twice", n)
			}
			g.index[k] = i
		}
	}
	return g, nil
}

// LoadEmbedded returns the gazetteer shipped in assets.
func LoadEmbedded() (*Gazetteer, error) {
	data, err := fs.ReadFile(assets.FS, assets.PlacesFile)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Names returns the canonical place names in file order.
func (g *Gazetteer) Names() []string {
	out := make([]string, len(g.places))
	for i, p := range g.places {
		out[i] = p.Name
	}
	return out
}

// Resolve accepts a known place name or "lat, lon, Region/City".
func (g *Gazetteer) Resolve(input string) (Place, error) {
	if i, ok := g.index[normalize(input)]; ok {
		return g.places[i], nil
	}
	if strings.Count(input, ",") == 2 {
		return parseManual(input)
	}
	return Place{}, fmt.Errorf("%w: %q", ErrUnknownPlace, strings.TrimSpace(input))
}

func parseManual(input string) (Place, error) {
	parts := strings.Split(input, ",")
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Place{}, fmt.Errorf("%w: latitude", ErrBadCoordinates)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Place{}, fmt.Errorf("%w: longitude", ErrBadCoordinates)
	}
	if err := checkCoords(lat, lon); err != nil {
		return Place{}, err
	}
	tz := strings.TrimSpace(parts[2])
	if tz == "" {
		return Place{}, fmt.Errorf("%w: empty timezone", ErrUnknownPlace)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return Place{}, fmt.Errorf("%w: timezone %q", ErrUnknownPlace, tz)
	}
	return Place{
		Name: fmt.Sprintf("%.4f, %.4f", lat, lon),
		Lat:  lat,
		Lon:  lon,
		TZ:   tz,
	}, nil
}

func checkCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: %.4f, %.4f", ErrBadCoordinates, lat, lon)
	}
	return nil
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "ё", "е")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}
