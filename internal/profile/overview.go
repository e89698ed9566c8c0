package profile

import (
	"strings"

	"github.com/hackjpnteam/sales-ai/internal/chunk"
	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// MaxOverviewChunks bounds the synthetic chunks rendered from a profile.
const MaxOverviewChunks = 3

// OverviewChunks renders profile as at most MaxOverviewChunks chunks so that
// questions about the company itself retrieve it directly. The caller embeds
// and stores them.
func OverviewChunks(p crawler.CompanyProfile, companyID, agentID, rootURL string, maxSize int) []crawler.Chunk {
	if p.IsEmpty() {
		return nil
	}
	if maxSize <= 0 {
		maxSize = chunk.DefaultMaxSize
	}

	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Company name", p.CompanyName)
	add("Industry", p.Industry)
	add("Address", p.Address)
	add("Representative", p.Representative)
	add("Established", p.Established)
	add("Capital", p.Capital)
	add("Employees", p.Employees)
	add("Phone", p.Phone)
	add("Email", p.Email)
	if len(p.Services) > 0 {
		add("Services", strings.Join(p.Services, ", "))
	}
	add("Mission", p.Mission)
	add("Summary", p.Summary)

	title := p.CompanyName
	if title == "" {
		title = OverviewSectionTitle
	}
	var out []crawler.Chunk
	for _, text := range chunk.Split(strings.Join(lines, "\n"), maxSize) {
		if len(out) == MaxOverviewChunks {
			break
		}
		out = append(out, crawler.Chunk{
			CompanyID:    companyID,
			AgentID:      agentID,
			URL:          rootURL,
			Title:        title,
			SectionTitle: OverviewSectionTitle,
			Text:         text,
		})
	}
	return out
}
