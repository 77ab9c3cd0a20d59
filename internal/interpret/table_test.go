package interpret

import (
	"strings"
	"testing"
)

const minimal = `
greeting: "Hi {{.Name}}"
calm: "calm"
fallback:
  conjunction: "c"
  sextile: "s"
  square: "q"
  trine: "t"
  opposition: "o"
`

func TestParseTableErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing fallback", "greeting: hi\ncalm: calm\nfallback:\n  square: q\n", "no fallback"},
		{"unknown type", minimal + "aspects:\n  - pair: [Sun, Moon]\n    type: quincunx\n    text: x\n", "unknown aspect type"},
		{"unknown body", minimal + "aspects:\n  - pair: [Sun, Chiron]\n    type: square\n    text: x\n", "unknown body"},
		{"single body", minimal + "aspects:\n  - pair: [Sun]\n    type: square\n    text: x\n", "two bodies"},
		{"duplicate pair", minimal + "aspects:\n  - pair: [Sun, Moon]\n    type: square\n    text: x\n  - pair: [Moon, Sun]\n    type: square\n    text: y\n", "duplicate"},
		{"empty calm", "greeting: hi\nfallback: {}\n", "calm"},
		{"section without items", minimal + "sections:\n  - title: Act\n", "sections[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("ParseTable err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseTableSections(t *testing.T) {
	table, err := ParseTable([]byte(minimal))
	if err != nil {
		t.Fatalf("ParseTable without sections: %v", err)
	}
	if len(table.sections) != 0 {
		t.Fatalf("sections = %d, want 0", len(table.sections))
	}

	table, err = ParseTable([]byte(minimal + "sections:\n  - title: Act\n    pick: 5\n    items: [a, b]\n  - title: Ritual\n    items: [r]\n"))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	if got := table.sections[0].pick; got != 2 {
		t.Fatalf("pick = %d, want clamp to 2", got)
	}
	if got := table.sections[1].pick; got != 1 {
		t.Fatalf("default pick = %d, want 1", got)
	}
}

func TestLoadEmbedded(t *testing.T) {
	table, quotes, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded: %v", err)
	}
	if table.Len() < 40 {
		t.Fatalf("table has %d entries, want at least 40", table.Len())
	}
	if len(quotes) == 0 {
		t.Fatal("no quotes loaded")
	}
}

func TestParseQuotesSkipsBlankAndComments(t *testing.T) {
	got := ParseQuotes([]byte("# header\n\n first \nsecond\n"))
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("ParseQuotes = %q", got)
	}
}
