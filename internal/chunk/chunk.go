// Package chunk splits extracted page text into bounded, sentence-aligned chunks.
package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// DefaultMaxSize is the chunk size, in runes, used when callers pass zero.
const DefaultMaxSize = 600

// Split greedily packs sentences into chunks of at most maxSize runes.
// A sentence longer than maxSize becomes its own chunk; sentences are never cut.
func Split(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	var (
		chunks []string
		buf    strings.Builder
		size   int
	)
	for _, sentence := range Sentences(text) {
		n := utf8.RuneCountInString(sentence)
		if size == 0 {
			buf.WriteString(sentence)
			size = n
			continue
		}
		sep := joiner(buf.String())
		if size+len(sep)+n > maxSize {
			chunks = append(chunks, buf.String())
			buf.Reset()
			buf.WriteString(sentence)
			size = n
			continue
		}
		buf.WriteString(sep)
		buf.WriteString(sentence)
		size += len(sep) + n
	}
	if size > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// Sentences breaks text on Japanese and English sentence terminators and on
// newlines. Terminators stay attached to their sentence; blank pieces are dropped.
func Sentences(text string) []string {
	var (
		out   []string
		start int
	)
	emit := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range text {
		width := utf8.RuneLen(r)
		switch {
		case r == '\n' || r == '\r':
			emit(i)
		case r == '。' || r == '！' || r == '？' || r == '!' || r == '?':
			emit(i + width)
		case r == '.':
			next, _ := utf8.DecodeRuneInString(text[i+width:])
			if i+width == len(text) || unicode.IsSpace(next) {
				emit(i + width)
			}
		}
	}
	emit(len(text))
	return out
}

func joiner(buf string) string {
	last, _ := utf8.DecodeLastRuneInString(buf)
	switch last {
	case '。', '！', '？', '」', '）':
		return ""
	default:
		return " "
	}
}

// SectionText renders a section as heading, content lines, then link lines.
func SectionText(section crawler.Section) string {
	lines := make([]string, 0, 1+len(section.ContentLines)+len(section.LinkLines))
	if title := strings.TrimSpace(section.Title); title != "" {
		lines = append(lines, title)
	}
	lines = append(lines, section.ContentLines...)
	lines = append(lines, section.LinkLines...)
	return strings.Join(lines, "\n")
}

// ForPage converts every section of doc into chunks owned by companyID/agentID.
// Vectors and timestamps are filled in later by the indexer.
func ForPage(doc crawler.PageDocument, companyID, agentID string, maxSize int) []crawler.Chunk {
	var out []crawler.Chunk
	for _, section := range doc.Sections {
		for _, text := range Split(SectionText(section), maxSize) {
			out = append(out, crawler.Chunk{
				CompanyID:    companyID,
				AgentID:      agentID,
				URL:          doc.URL,
				Title:        doc.Title,
				SectionTitle: section.Title,
				Text:         text,
			})
		}
	}
	return out
}
