// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Tier is the discovery priority of a frontier entry. Lower values are crawled first.
type Tier int

// Supported frontier tiers.
const (
	TierCritical Tier = iota
	TierPriority
	TierNormal
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierPriority:
		return "priority"
	default:
		return "normal"
	}
}

// CrawlTask is a URL waiting in the frontier together with its tier.
type CrawlTask struct {
	URL  string
	Tier Tier
}

// Link is an absolute, same-origin hyperlink discovered on a page.
type Link struct {
	URL  string
	Text string
}

// Section is a heading plus the content collected beneath it.
type Section struct {
	Title        string
	ContentLines []string
	LinkLines    []string
}

// Empty reports whether nothing was collected for the section.
func (s Section) Empty() bool {
	return len(s.ContentLines) == 0 && len(s.LinkLines) == 0
}

// PageDocument is the structured result of extracting one page.
type PageDocument struct {
	URL         string
	Title       string
	Description string
	Category    string
	ThemeColor  string
	Sections    []Section
	Links       []Link
}

// Chunk is a bounded unit of page text stored with its embedding.
type Chunk struct {
	CompanyID    string    `json:"company_id"`
	AgentID      string    `json:"agent_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	SectionTitle string    `json:"section_title"`
	Text         string    `json:"text"`
	Vector       []float32 `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScoredChunk pairs a stored chunk with its similarity to a query vector.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// CompanyProfile is a best-effort structured summary of a business. Every field is optional.
type CompanyProfile struct {
	CompanyName    string   `json:"company_name,omitempty"`
	Address        string   `json:"address,omitempty"`
	Representative string   `json:"representative,omitempty"`
	Established    string   `json:"established,omitempty"`
	Capital        string   `json:"capital,omitempty"`
	Employees      string   `json:"employees,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Email          string   `json:"email,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	Mission        string   `json:"mission,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	Services       []string `json:"services,omitempty"`
}

// IsEmpty reports whether no field carries a value.
func (p CompanyProfile) IsEmpty() bool {
	return p.CompanyName == "" && p.Address == "" && p.Representative == "" &&
		p.Established == "" && p.Capital == "" && p.Employees == "" &&
		p.Phone == "" && p.Email == "" && p.Industry == "" &&
		p.Mission == "" && p.Summary == "" && len(p.Services) == 0
}

// CustomKnowledgeEntry is operator-authored text searched alongside crawled chunks.
type CustomKnowledgeEntry struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Vector    []float32 `json:"-"`
}

// SearchResult is one ranked retrieval hit.
type SearchResult struct {
	Text              string  `json:"text"`
	URL               string  `json:"url,omitempty"`
	Title             string  `json:"title"`
	Score             float64 `json:"score"`
	IsCustomKnowledge bool    `json:"is_custom_knowledge"`
}

// AcceptLanguage is sent by both fetch strategies.
const AcceptLanguage = "ja,en-US;q=0.8,en;q=0.6"

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID string
	URL   string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	IsSPA        bool
}

// CrawlRequest starts one crawl run against a single site.
type CrawlRequest struct {
	JobID      uuid.UUID
	CompanyID  string
	AgentID    string
	RootURL    string
	PageBudget int
}

// CrawlResult summarizes a finished crawl run.
type CrawlResult struct {
	Success      bool           `json:"success"`
	Chunks       int            `json:"chunks"`
	PagesVisited int            `json:"pages_visited"`
	Visited      []string       `json:"visited,omitempty"`
	ThemeColor   string         `json:"theme_color,omitempty"`
	IsSPA        bool           `json:"is_spa"`
	Profile      CompanyProfile `json:"profile"`

	// Collected holds every chunk produced by the run, for profile extraction.
	Collected []Chunk `json:"-"`
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobProgress is the latest progress snapshot recorded for a job.
type JobProgress struct {
	Stage       string    `json:"stage"`
	CurrentPage int       `json:"current_page"`
	TotalPages  int       `json:"total_pages"`
	Percent     int       `json:"percent"`
	ChunksFound int       `json:"chunks_found"`
	Message     string    `json:"message,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID         string       `json:"id"`
	CompanyID  string       `json:"company_id"`
	AgentID    string       `json:"agent_id"`
	RootURL    string       `json:"url"`
	PageBudget int          `json:"page_budget"`
	Status     JobStatus    `json:"status"`
	Submitted  time.Time    `json:"submitted_at"`
	Started    *time.Time   `json:"started_at,omitempty"`
	Finished   *time.Time   `json:"finished_at,omitempty"`
	ErrorText  string       `json:"error_text,omitempty"`
	Progress   JobProgress  `json:"progress"`
	Result     *CrawlResult `json:"result,omitempty"`
}

// QueueItem is placed on the work queue for workers.
type QueueItem struct {
	JobID   string
	Request CrawlRequest
}
