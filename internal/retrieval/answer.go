package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/metrics"
)

// Answer defaults.
const (
	DefaultMinScore        = 0.3
	DefaultTemperature     = 0.3
	DefaultMaxTokens       = 800
	DefaultContextMaxRunes = 12000
	// NoInformationMessage is returned when nothing relevant was retrieved.
	NoInformationMessage = "I could not find information about that on this company's website. Please contact the company directly for details."
)

const answerSystemPrompt = `You are a sales assistant answering questions about one company.
Answer only from the numbered context passages. Do not invent facts, prices, dates or contact details.
If the context does not contain the answer, say you could not find that information.
Reply in the same language as the question. Keep the answer concise.`

// Searcher returns ranked results for a question.
type Searcher interface {
	Search(ctx context.Context, companyID, question string) ([]crawler.SearchResult, error)
}

// AnswerConfig tunes answer synthesis.
type AnswerConfig struct {
	MinScore        float64
	Temperature     float64
	MaxTokens       int
	ContextMaxRunes int
	NoInformation   string
}

func (c AnswerConfig) withDefaults() AnswerConfig {
	if c.MinScore <= 0 {
		c.MinScore = DefaultMinScore
	}
	if c.Temperature < 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.ContextMaxRunes <= 0 {
		c.ContextMaxRunes = DefaultContextMaxRunes
	}
	if strings.TrimSpace(c.NoInformation) == "" {
		c.NoInformation = NoInformationMessage
	}
	return c
}

// Answer is a synthesized reply plus the passages it was grounded on.
type Answer struct {
	Text    string                 `json:"answer"`
	Found   bool                   `json:"found"`
	Sources []crawler.SearchResult `json:"sources"`
}

// Answerer filters search results by relevance and asks the completer to
// answer from what remains.
type Answerer struct {
	searcher  Searcher
	completer crawler.Completer
	cfg       AnswerConfig
	logger    *zap.Logger
}

// NewAnswerer wires an Answerer.
func NewAnswerer(searcher Searcher, completer crawler.Completer, cfg AnswerConfig, logger *zap.Logger) *Answerer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Answerer{searcher: searcher, completer: completer, cfg: cfg.withDefaults(), logger: logger}
}

// Answer never fails just because nothing relevant exists; that case yields
// the no-information answer with Found=false.
func (a *Answerer) Answer(ctx context.Context, companyID, question string) (Answer, error) {
	results, err := a.searcher.Search(ctx, companyID, question)
	if err != nil {
		return Answer{}, fmt.Errorf("search: %w", err)
	}
	relevant := make([]crawler.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= a.cfg.MinScore {
			relevant = append(relevant, r)
		}
	}
	if len(relevant) == 0 {
		metrics.ObserveAnswer("no_information")
		return a.noInformation(), nil
	}

	reply, err := a.completer.Complete(ctx, answerSystemPrompt, a.prompt(question, relevant), a.cfg.Temperature, a.cfg.MaxTokens)
	if err != nil {
		return Answer{}, fmt.Errorf("complete answer: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		a.logger.Warn("empty completion; returning no-information answer", zap.String("company_id", companyID))
		metrics.ObserveAnswer("no_information")
		return a.noInformation(), nil
	}
	metrics.ObserveAnswer("answered")
	return Answer{Text: reply, Found: true, Sources: relevant}, nil
}

func (a *Answerer) noInformation() Answer {
	return Answer{Text: a.cfg.NoInformation, Sources: []crawler.SearchResult{}}
}

func (a *Answerer) prompt(question string, results []crawler.SearchResult) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	budget := a.cfg.ContextMaxRunes
	for i, r := range results {
		passage := fmt.Sprintf("[%d] %s", i+1, r.Title)
		if r.URL != "" {
			passage += " (" + r.URL + ")"
		}
		passage += "\n" + r.Text + "\n\n"
		n := len([]rune(passage))
		if n > budget && i > 0 {
			break
		}
		budget -= n
		b.WriteString(passage)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
