// Package extract parses fetched HTML into heading-scoped sections plus page
// metadata and same-origin discovery links.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// OtherInformationTitle names the synthetic section holding tables and
// definition lists found outside any heading span.
const OtherInformationTitle = "Other information"

// MainContentTitle names the unstructured fallback section.
const MainContentTitle = "Main content"

const (
	minParagraphRunes = 6
	minSections       = 2
	linkArrow         = " → "
	bullet            = "• "
	nonContentTags    = "script, style, noscript, template, svg, nav, header, footer, aside, form, iframe"
	headingTags       = "h1, h2, h3"
	fallbackSelectors = "main, article, .content, #content, body"
)

// Extractor turns raw HTML into a crawler.PageDocument.
type Extractor struct{}

// New constructs an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses raw HTML fetched from baseURL. contentType may be empty; it
// is only used to pick the character set.
func (e *Extractor) Extract(raw []byte, baseURL, contentType string) (crawler.PageDocument, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return crawler.PageDocument{}, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decode(raw, contentType)))
	if err != nil {
		return crawler.PageDocument{}, fmt.Errorf("parse html: %w", err)
	}

	page := crawler.PageDocument{
		URL:        baseURL,
		Category:   Category(baseURL),
		ThemeColor: attr(doc, `meta[name="theme-color"]`, "content"),
	}
	page.Title = clean(doc.Find("title").First().Text())
	if page.Title == "" {
		page.Title = attr(doc, `meta[property="og:title"]`, "content")
	}
	page.Description = attr(doc, `meta[name="description"]`, "content")
	if page.Description == "" {
		page.Description = attr(doc, `meta[property="og:description"]`, "content")
	}

	// Menus and footers are stripped from the content but still feed discovery.
	page.Links = Links(doc.Selection, base)

	doc.Find(nonContentTags).Remove()

	w := &walker{base: base, seen: make(map[string]struct{})}
	doc.Find(headingTags).Each(func(_ int, heading *goquery.Selection) {
		if section, ok := w.headingSection(heading); ok {
			page.Sections = append(page.Sections, section)
		}
	})
	if other := w.otherInformation(doc.Selection); !other.Empty() {
		page.Sections = append(page.Sections, other)
	}
	if len(page.Sections) < minSections {
		if fallback := fallbackSection(doc); !fallback.Empty() {
			page.Sections = append(page.Sections, fallback)
		}
	}
	return page, nil
}

// Links returns the unique same-origin, non-asset links under sel in document order.
func Links(sel *goquery.Selection, base *url.URL) []crawler.Link {
	var links []crawler.Link
	seen := make(map[string]struct{})
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		link, ok := resolveLink(a, base)
		if !ok {
			return
		}
		if _, dup := seen[link.URL]; dup {
			return
		}
		seen[link.URL] = struct{}{}
		links = append(links, link)
	})
	return links
}

func resolveLink(a *goquery.Selection, base *url.URL) (crawler.Link, bool) {
	href, _ := a.Attr("href")
	abs, ok := crawler.Resolve(base, href)
	if !ok || crawler.IsAsset(abs) {
		return crawler.Link{}, false
	}
	target, err := url.Parse(abs)
	if err != nil || !crawler.SameOrigin(base, target) {
		return crawler.Link{}, false
	}
	text := clean(a.Text())
	if text == "" {
		text = clean(a.AttrOr("title", a.AttrOr("aria-label", "")))
	}
	return crawler.Link{URL: abs, Text: text}, true
}

type walker struct {
	base *url.URL
	// seen holds content lines already assigned to a heading section.
	seen map[string]struct{}
}

func (w *walker) headingSection(heading *goquery.Selection) (crawler.Section, bool) {
	title := clean(heading.Text())
	if title == "" {
		return crawler.Section{}, false
	}
	section := crawler.Section{Title: title}
	lines := newLineSet()
	links := newLineSet()

	// Headings wrapped alone in a container take their content from the
	// container's siblings instead.
	anchor := heading
	for anchor.NextAll().Length() == 0 {
		parent := anchor.Parent()
		if parent.Length() == 0 || goquery.NodeName(parent) == "body" || goquery.NodeName(parent) == "html" {
			break
		}
		anchor = parent
	}

	for sib := anchor.Next(); sib.Length() > 0; sib = sib.Next() {
		if sib.Is(headingTags) || sib.Find(headingTags).Length() > 0 {
			break
		}
		w.collect(sib, lines, links)
	}

	section.ContentLines = lines.items
	section.LinkLines = links.items
	if section.Empty() {
		return crawler.Section{}, false
	}
	for _, line := range section.ContentLines {
		w.seen[line] = struct{}{}
	}
	return section, true
}

func (w *walker) collect(block *goquery.Selection, lines, links *lineSet) {
	found := false
	within(block, "p").Each(func(_ int, p *goquery.Selection) {
		if p.Closest("li, td, th, dt, dd").Length() > 0 {
			return
		}
		found = true
		if text := clean(p.Text()); utf8.RuneCountInString(text) >= minParagraphRunes {
			lines.add(text)
		}
	})
	within(block, "li").Each(func(_ int, li *goquery.Selection) {
		found = true
		if text := clean(li.Text()); text != "" {
			lines.add(bullet + text)
		}
	})
	within(block, "tr").Each(func(_ int, tr *goquery.Selection) {
		found = true
		if line := tableRow(tr); line != "" {
			lines.add(line)
		}
	})
	within(block, "dl").Each(func(_ int, dl *goquery.Selection) {
		found = true
		for _, line := range definitionRows(dl) {
			lines.add(line)
		}
	})
	within(block, "a[href]").Each(func(_ int, a *goquery.Selection) {
		link, ok := resolveLink(a, w.base)
		if !ok || link.Text == "" {
			return
		}
		links.add(link.Text + linkArrow + link.URL)
	})
	if found || block.Is("a") {
		return
	}
	// Bare text blocks such as <div>...</div> without paragraph markup.
	for _, line := range blockLines(block) {
		if utf8.RuneCountInString(line) >= minParagraphRunes {
			lines.add(line)
		}
	}
}

func (w *walker) otherInformation(root *goquery.Selection) crawler.Section {
	lines := newLineSet()
	add := func(line string) {
		if line == "" {
			return
		}
		if _, dup := w.seen[line]; dup {
			return
		}
		lines.add(line)
	}
	root.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		add(tableRow(tr))
	})
	root.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		for _, line := range definitionRows(dl) {
			add(line)
		}
	})
	return crawler.Section{Title: OtherInformationTitle, ContentLines: lines.items}
}

func fallbackSection(doc *goquery.Document) crawler.Section {
	for _, selector := range strings.Split(fallbackSelectors, ",") {
		sel := doc.Find(strings.TrimSpace(selector)).First()
		if sel.Length() == 0 {
			continue
		}
		lines := newLineSet()
		for _, line := range blockLines(sel) {
			lines.add(line)
		}
		if len(lines.items) > 0 {
			return crawler.Section{Title: MainContentTitle, ContentLines: lines.items}
		}
	}
	return crawler.Section{}
}

func tableRow(tr *goquery.Selection) string {
	var cells []string
	tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		if text := clean(cell.Text()); text != "" {
			cells = append(cells, text)
		}
	})
	switch len(cells) {
	case 0:
		return ""
	case 1:
		return cells[0]
	default:
		return cells[0] + ": " + strings.Join(cells[1:], " / ")
	}
}

func definitionRows(dl *goquery.Selection) []string {
	var (
		rows  []string
		label string
	)
	dl.Find("dt, dd").Each(func(_ int, item *goquery.Selection) {
		text := clean(item.Text())
		if text == "" {
			return
		}
		if goquery.NodeName(item) == "dt" {
			label = text
			return
		}
		if label == "" {
			rows = append(rows, text)
			return
		}
		rows = append(rows, label+": "+text)
	})
	return rows
}

// within matches selector against sel itself and its descendants.
func within(sel *goquery.Selection, selector string) *goquery.Selection {
	return sel.Filter(selector).AddSelection(sel.Find(selector))
}

var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "main": {}, "li": {}, "ul": {}, "ol": {},
	"tr": {}, "td": {}, "th": {}, "table": {}, "dl": {}, "dt": {}, "dd": {}, "br": {}, "h1": {}, "h2": {}, "h3": {},
	"h4": {}, "h5": {}, "h6": {}, "blockquote": {}, "pre": {}, "address": {}, "figure": {},
}

// blockLines renders the text under sel with a line break at each block element.
func blockLines(sel *goquery.Selection) []string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			_, block := blockElements[n.Data]
			if block {
				b.WriteByte('\n')
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			if block {
				b.WriteByte('\n')
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = clean(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func attr(doc *goquery.Document, selector, name string) string {
	return clean(doc.Find(selector).First().AttrOr(name, ""))
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func decode(raw []byte, contentType string) []byte {
	enc, _, certain := charset.DetermineEncoding(raw, contentType)
	// Sniffing only sees the first 1KB; trust valid UTF-8 over a guessed default.
	if !certain && utf8.Valid(raw) {
		return raw
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return raw
	}
	return decoded
}

type lineSet struct {
	items []string
	seen  map[string]struct{}
}

func newLineSet() *lineSet {
	return &lineSet{seen: make(map[string]struct{})}
}

func (s *lineSet) add(line string) {
	if _, ok := s.seen[line]; ok {
		return
	}
	s.seen[line] = struct{}{}
	s.items = append(s.items, line)
}
