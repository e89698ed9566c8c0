// Package profile extracts a structured company profile from crawled chunks
// using a chat completion, and renders it back into indexable chunks.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/extract"
)

// Defaults for Config.
const (
	DefaultMaxChunks = 80
	DefaultMaxChars  = 20000
	DefaultMaxTokens = 1500
	maxFieldRunes    = 1000
	maxServices      = 30
)

// OverviewSectionTitle labels the synthetic chunks built from a profile.
const OverviewSectionTitle = "Company overview"

var legalEntity = regexp.MustCompile(`(?i)(株式会社|有限会社|合同会社|一般社団法人|\b(?:inc|corp|corporation|ltd|llc|gmbh)\b|\bco\.,|\bk\.k\.)`)

const systemPrompt = `You extract company facts from website text.
Use only facts literally present in the text. Never infer, guess or translate values.
Return one JSON object and nothing else, with these optional string fields:
company_name, address, representative, established, capital, employees, phone, email, industry, mission, summary
and an optional "services" array of short strings.
Omit any field that the text does not state.`

// Config bounds the prompt.
type Config struct {
	MaxChunks int
	MaxChars  int
	MaxTokens int
}

// Extractor builds a CompanyProfile from chunks.
type Extractor struct {
	completer crawler.Completer
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Extractor.
func New(completer crawler.Completer, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultMaxChunks
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{completer: completer, cfg: cfg, logger: logger}
}

// Extract returns the profile found in chunks. Any failure yields an empty
// profile.
func (e *Extractor) Extract(ctx context.Context, chunks []crawler.Chunk) crawler.CompanyProfile {
	if len(chunks) == 0 || e.completer == nil {
		return crawler.CompanyProfile{}
	}
	text := BuildContext(Rank(chunks), e.cfg.MaxChunks, e.cfg.MaxChars)
	if strings.TrimSpace(text) == "" {
		return crawler.CompanyProfile{}
	}
	reply, err := e.completer.Complete(ctx, systemPrompt, text, 0, e.cfg.MaxTokens)
	if err != nil {
		e.logger.Warn("profile completion failed", zap.Error(err))
		return crawler.CompanyProfile{}
	}
	profile, err := Parse(reply)
	if err != nil {
		e.logger.Warn("profile reply rejected", zap.Error(err))
		return crawler.CompanyProfile{}
	}
	return profile
}

// Rank orders chunks: legal-entity mentions first, then company-info pages,
// then the rest. Order within each group is preserved.
func Rank(chunks []crawler.Chunk) []crawler.Chunk {
	ranked := slices.Clone(chunks)
	slices.SortStableFunc(ranked, func(a, b crawler.Chunk) int {
		return rankOf(a) - rankOf(b)
	})
	return ranked
}

func rankOf(c crawler.Chunk) int {
	switch {
	case legalEntity.MatchString(c.Text):
		return 0
	case extract.Category(c.URL) == extract.CategoryCompanyInfo:
		return 1
	default:
		return 2
	}
}

// BuildContext concatenates at most maxChunks chunks without exceeding
// maxChars runes. A chunk that would overflow the budget is skipped.
func BuildContext(chunks []crawler.Chunk, maxChunks, maxChars int) string {
	var b strings.Builder
	used, taken := 0, 0
	for _, c := range chunks {
		if taken == maxChunks {
			break
		}
		block := fmt.Sprintf("[%s] %s\n%s\n\n", c.URL, c.SectionTitle, strings.TrimSpace(c.Text))
		n := utf8.RuneCountInString(block)
		if used+n > maxChars {
			continue
		}
		b.WriteString(block)
		used += n
		taken++
	}
	return b.String()
}

// Parse reads a completion reply as a profile. Code fences and surrounding
// prose are ignored; fields of the wrong type are dropped.
func Parse(reply string) (crawler.CompanyProfile, error) {
	object, ok := firstObject(stripFences(reply))
	if !ok {
		return crawler.CompanyProfile{}, fmt.Errorf("no json object in reply")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(object), &fields); err != nil {
		return crawler.CompanyProfile{}, fmt.Errorf("decode profile: %w", err)
	}
	profile := crawler.CompanyProfile{
		CompanyName:    text(fields["company_name"]),
		Address:        text(fields["address"]),
		Representative: text(fields["representative"]),
		Established:    scalar(fields["established"]),
		Capital:        scalar(fields["capital"]),
		Employees:      scalar(fields["employees"]),
		Phone:          text(fields["phone"]),
		Email:          text(fields["email"]),
		Industry:       text(fields["industry"]),
		Mission:        text(fields["mission"]),
		Summary:        text(fields["summary"]),
		Services:       services(fields["services"]),
	}
	if profile.Email != "" {
		if _, err := mail.ParseAddress(profile.Email); err != nil {
			profile.Email = ""
		}
	}
	return profile, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// firstObject returns the first balanced {...} span, honoring JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// text accepts only a JSON string.
func text(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return clean(s)
}

// scalar accepts a JSON string or number.
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if s := text(raw); s != "" {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func services(raw json.RawMessage) []string {
	var items []any
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = clean(s)
		key := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
		if len(out) == maxServices {
			break
		}
	}
	return out
}

func clean(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	switch strings.ToLower(s) {
	case "null", "none", "n/a", "unknown", "-":
		return ""
	}
	if utf8.RuneCountInString(s) > maxFieldRunes {
		s = string([]rune(s)[:maxFieldRunes])
	}
	return s
}
