// Package assets embeds the content tables shipped with the bot.
package assets

import "embed"

//go:embed interpretations.yaml quotes.txt places.yaml
var FS embed.FS

const (
	InterpretationsFile = "interpretations.yaml"
	QuotesFile          = "quotes.txt"
	PlacesFile          = "places.yaml"
)
