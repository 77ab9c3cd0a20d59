package interpret

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/thedetect/UTB2/assets"
	"github.com/thedetect/UTB2/internal/astro"
	"github.com/thedetect/UTB2/internal/ephemeris"
)

type key struct {
	pair astro.Pair
	typ  astro.AspectType
}

// Table is the finite mapping from (body pair, aspect type) to a template,
// plus the fixed message parts.
type Table struct {
	greeting      *template.Template
	calm          string
	energiesTitle string
	quoteTitle    string
	verbs         map[astro.AspectType]string
	fallback      map[astro.AspectType]*template.Template
	entries       map[key]*template.Template
	sections      []section
}

// section is an advice block; pick of its items are shown per message.
type section struct {
	title string
	items []string
	pick  int
	plain bool
}

type rawEntry struct {
	Pair []string `yaml:"pair"`
	Type string   `yaml:"type"`
	Text string   `yaml:"text"`
}

type rawSection struct {
	Title string   `yaml:"title"`
	Pick  int      `yaml:"pick"`
	Plain bool     `yaml:"plain"`
	Items []string `yaml:"items"`
}

type rawTable struct {
	Greeting      string            `yaml:"greeting"`
	Calm          string            `yaml:"calm"`
	EnergiesTitle string            `yaml:"energies_title"`
	QuoteTitle    string            `yaml:"quote_title"`
	Verbs         map[string]string `yaml:"verbs"`
	Fallback      map[string]string `yaml:"fallback"`
	Sections      []rawSection      `yaml:"sections"`
	Aspects       []rawEntry        `yaml:"aspects"`
}

func parseType(s string) (astro.AspectType, error) {
	for _, t := range astro.AspectTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown aspect type %q", s)
}

// ParseTable decodes a YAML interpretation table. Every aspect type needs a
// fallback template; entries must name two known bodies and be unique.
func ParseTable(data []byte) (*Table, error) {
	var raw rawTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode interpretations: %w", err)
	}

	greeting, err := template.New("greeting").Option("missingkey=error").Parse(raw.Greeting)
	if err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	t := &Table{
		greeting:      greeting,
		calm:          strings.TrimSpace(raw.Calm),
		energiesTitle: raw.EnergiesTitle,
		quoteTitle:    raw.QuoteTitle,
		verbs:         make(map[astro.AspectType]string),
		fallback:      make(map[astro.AspectType]*template.Template),
		entries:       make(map[key]*template.Template, len(raw.Aspects)),
	}
	if t.calm == "" {
		return nil, fmt.Errorf("calm text is empty")
	}

	for name, verb := range raw.Verbs {
		typ, err := parseType(name)
		if err != nil {
			return nil, fmt.Errorf("verbs: %w", err)
		}
		t.verbs[typ] = verb
	}
	for name, text := range raw.Fallback {
		typ, err := parseType(name)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		tpl, err := template.New("fallback_" + name).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("fallback %s: %w", name, err)
		}
		t.fallback[typ] = tpl
	}
	for _, typ := range astro.AspectTypes() {
		if _, ok := t.fallback[typ]; !ok {
			return nil, fmt.Errorf("no fallback for %s", typ)
		}
	}

	for i, rs := range raw.Sections {
		sec := section{title: strings.TrimSpace(rs.Title), pick: rs.Pick, plain: rs.Plain}
		for _, it := range rs.Items {
			if it = strings.TrimSpace(it); it != "" {
				sec.items = append(sec.items, it)
			}
		}
		if sec.title == "" || len(sec.items) == 0 {
			return nil, fmt.Errorf("sections[%d]: title and items are required", i)
		}
		if sec.pick <= 0 {
			sec.pick = 1
		}
		sec.pick = min(sec.pick, len(sec.items))
		t.sections = append(t.sections, sec)
	}

	for i, e := range raw.Aspects {
		if len(e.Pair) != 2 {
			return nil, fmt.Errorf("aspects[%d]: pair needs two bodies", i)
		}
		bodies, err := ephemeris.ParseBodies(e.Pair)
		if err != nil {
			return nil, fmt.Errorf("aspects[%d]: %w", i, err)
		}
		a, b := bodies[0], bodies[0]
		if len(bodies) == 2 {
			b = bodies[1]
		}
		typ, err := parseType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("aspects[%d]: %w", i, err)
		}
		k := key{pair: astro.NewPair(a, b), typ: typ}
		if _, dup := t.entries[k]; dup {
			return nil, fmt.Errorf("aspects[%d]: duplicate %s-%s %s", i, k.pair.A, k.pair.B, typ)
		}
		tpl, err := template.New(fmt.Sprintf("aspect_%d", i)).Parse(e.Text)
		if err != nil {
			return nil, fmt.Errorf("aspects[%d]: %w", i, err)
		}
		t.entries[k] = tpl
	}
	return t, nil
}

// Len returns the number of specific entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// ParseQuotes returns the non-empty, non-comment lines of a quotes file.
func ParseQuotes(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// LoadEmbedded reads the interpretation table and quotes shipped in assets.
func LoadEmbedded() (*Table, []string, error) {
	data, err := fs.ReadFile(assets.FS, assets.InterpretationsFile)
	if err != nil {
		return nil, nil, err
	}
	table, err := ParseTable(data)
	if err != nil {
		return nil, nil, err
	}
	qdata, err := fs.ReadFile(assets.FS, assets.QuotesFile)
	if err != nil {
		return nil, nil, err
	}
	return table, ParseQuotes(qdata), nil
}
