package property

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// folder carries non-reentrant transformers, so each goroutine borrows one.
type folder struct {
	strip transform.Transformer
	caser cases.Caser
}

var folders = sync.Pool{
	New: func() any {
		return &folder{
			strip: transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
			caser: cases.Fold(),
		}
	},
}

// Fold normalizes s for case and accent insensitive matching.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	f := folders.Get().(*folder)
	defer folders.Put(f)

	stripped, _, err := transform.String(f.strip, s)
	if err != nil {
		stripped = s
	}
	return f.caser.String(stripped)
}

// SearchWords folds text and splits it into whitespace-separated terms.
func SearchWords(text string) []string {
	return strings.Fields(Fold(text))
}
