// Package detector classifies fetched documents that only render content
// after client-side JavaScript runs.
package detector

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// DefaultTextThreshold is the visible-text length below which a page may be a shell.
const DefaultTextThreshold = 100

const maxVisibleBytes = 4096

// Heuristic implements rule-based SPA shell detection.
type Heuristic struct {
	TextThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultTextThreshold
	}
	return &Heuristic{TextThreshold: threshold}
}

var shellMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<div[^>]*\bid\s*=\s*["'](?:root|app|__next|__nuxt)["'][^>]*>\s*</div>`),
	regexp.MustCompile(`(?is)<script[^>]*\btype\s*=\s*["']module["']`),
}

var hiddenElements = map[string]struct{}{
	"script":   {},
	"style":    {},
	"head":     {},
	"noscript": {},
	"template": {},
}

// IsSPA reports whether html looks like an empty client-side application
// shell: almost no visible text and an empty mount node or module script.
func (h *Heuristic) IsSPA(raw []byte) bool {
	if utf8.RuneCountInString(VisibleText(raw)) >= h.threshold() {
		return false
	}
	for _, marker := range shellMarkers {
		if marker.Match(raw) {
			return true
		}
	}
	return false
}

func (h *Heuristic) threshold() int {
	if h == nil || h.TextThreshold <= 0 {
		return DefaultTextThreshold
	}
	return h.TextThreshold
}

// VisibleText returns whitespace-collapsed text outside script, style and head.
// The result is truncated once it is long enough to be unambiguous.
func VisibleText(raw []byte) string {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if b.Len() > maxVisibleBytes {
			return
		}
		if n.Type == html.ElementNode {
			if _, skip := hiddenElements[n.Data]; skip {
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}
