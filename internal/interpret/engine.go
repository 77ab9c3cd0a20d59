// Package interpret turns detected aspects into the text of a daily message.
package interpret

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"text/template"
	"time"

	"github.com/thedetect/UTB2/internal/astro"
	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/entitlement"
)

// ErrMissingInterpretation is reported when an aspect has no specific
// template and the per-type fallback was used instead.
var ErrMissingInterpretation = errors.New("missing interpretation")

const (
	bullet     = "• "
	adviceMark = "- "
)

// Input is everything needed to compose one message.
type Input struct {
	Name    string
	Aspects []astro.Aspect // most exact first
	Tier    entitlement.Tier
	Date    time.Time
	Seed    int64
}

// Engine composes messages from a Table.
type Engine struct {
	table  *Table
	quotes []string
	extra  int
}

// New returns an Engine. extra is the number of additional aspects shown
// to the extended tier.
func New(table *Table, quotes []string, extra int) *Engine {
	if extra < 0 {
		extra = 0
	}
	return &Engine{table: table, quotes: quotes, extra: extra}
}

// NewEmbedded returns an Engine over the shipped interpretation table.
func NewEmbedded(extra int) (*Engine, error) {
	table, quotes, err := LoadEmbedded()
	if err != nil {
		return nil, err
	}
	return New(table, quotes, extra), nil
}

type aspectData struct {
	Transit string
	Natal   string
	Type    string
	Verb    string
	Orb     string
}

// Compose renders the message for in. When some aspects lack a specific
// template the message is still complete and the returned error wraps
// ErrMissingInterpretation for each of them; any other error means no
// message could be produced.
func (e *Engine) Compose(in Input) (string, error) {
	var b strings.Builder

	name := in.Name
	if name == "" {
		name = "friend"
	}
	if err := e.table.greeting.Execute(&b, struct{ Name string }{name}); err != nil {
		return "", fmt.Errorf("greeting: %w", err)
	}
	b.WriteString("\n\n")

	var misses []error
	selected := e.Select(in.Aspects, in.Tier)
	if len(selected) == 0 {
		b.WriteString(e.table.calm)
	} else {
		if e.table.energiesTitle != "" {
			b.WriteString(e.table.energiesTitle)
			b.WriteString("\n")
		}
		for i, a := range selected {
			line, err := e.render(a)
			if err != nil {
				if !errors.Is(err, ErrMissingInterpretation) {
					return "", err
				}
				misses = append(misses, err)
			}
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(bullet)
			b.WriteString(line)
		}
		for _, sec := range e.table.sections {
			b.WriteString("\n\n")
			b.WriteString(sec.title)
			for _, it := range pickItems(sec, in.Date, in.Seed) {
				b.WriteString("\n")
				if !sec.plain {
					b.WriteString(adviceMark)
				}
				b.WriteString(it)
			}
		}
	}

	if q := e.quote(in.Date, in.Seed); q != "" {
		b.WriteString("\n\n")
		if e.table.quoteTitle != "" {
			b.WriteString(e.table.quoteTitle)
			b.WriteString("\n")
		}
		b.WriteString(q)
	}
	return b.String(), errors.Join(misses...)
}

// Select picks the aspects shown for a tier: the headline, and for the
// extended tier up to extra further aspects with distinct body pairs.
func (e *Engine) Select(aspects []astro.Aspect, tier entitlement.Tier) []astro.Aspect {
	if len(aspects) == 0 {
		return nil
	}
	out := []astro.Aspect{aspects[0]}
	if tier != entitlement.Extended {
		return out
	}
	seen := map[astro.Pair]bool{aspects[0].Pair(): true}
	for _, a := range aspects[1:] {
		if len(out) > e.extra {
			break
		}
		if seen[a.Pair()] {
			continue
		}
		seen[a.Pair()] = true
		out = append(out, a)
	}
	return out
}

func (e *Engine) render(a astro.Aspect) (string, error) {
	data := aspectData{
		Transit: string(a.Transit),
		Natal:   string(a.Natal),
		Type:    string(a.Type),
		Verb:    e.table.verbs[a.Type],
		Orb:     fmt.Sprintf("%.1f°", a.Orb),
	}
	if data.Verb == "" {
		data.Verb = "aspects"
	}

	var miss error
	tpl, ok := e.table.entries[key{pair: a.Pair(), typ: a.Type}]
	if !ok {
		miss = fmt.Errorf("%w: %s-%s %s", ErrMissingInterpretation, a.Transit, a.Natal, a.Type)
		tpl, ok = e.table.fallback[a.Type]
		if !ok {
			return "", fmt.Errorf("no fallback for %s", a.Type)
		}
	}
	text, err := execute(tpl, data)
	if err != nil {
		return "", fmt.Errorf("render %s-%s %s: %w", a.Transit, a.Natal, a.Type, err)
	}
	return text, miss
}

func execute(tpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

// pickItems returns sec.pick consecutive items starting at an offset fixed
// by user and date, wrapping around.
func pickItems(sec section, date time.Time, seed int64) []string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d/%s", date.Format(domain.DateLayout), seed, sec.title)
	start := int(h.Sum32() % uint32(len(sec.items)))
	out := make([]string, 0, sec.pick)
	for i := 0; i < sec.pick; i++ {
		out = append(out, sec.items[(start+i)%len(sec.items)])
	}
	return out
}

// quote picks the quote of the day; the same user gets the same quote for a
// given date.
func (e *Engine) quote(date time.Time, seed int64) string {
	if len(e.quotes) == 0 {
		return ""
	}
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d", date.Format(domain.DateLayout), seed)
	return e.quotes[h.Sum32()%uint32(len(e.quotes))]
}
