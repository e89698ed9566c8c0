package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/dispatcher"
)

type crawlRequest struct {
	CompanyID  string `json:"company_id"`
	AgentID    string `json:"agent_id"`
	URL        string `json:"url"`
	PageBudget int    `json:"page_budget,omitempty"`
}

type crawlAccepted struct {
	JobID  string            `json:"job_id"`
	Status crawler.JobStatus `json:"status"`
}

type crawlConflict struct {
	Error string `json:"error"`
	JobID string `json:"job_id"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	if s.deps.Crawls == nil {
		writeError(w, http.StatusServiceUnavailable, "crawling is not configured")
		return
	}
	var body crawlRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	req, msg := s.crawlRequestFrom(body)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	job, err := s.deps.Crawls.Submit(r.Context(), req)
	switch {
	case errors.Is(err, dispatcher.ErrAgentBusy):
		writeJSON(w, http.StatusConflict, crawlConflict{Error: "crawl already in progress", JobID: job.ID})
		return
	case err != nil:
		s.logger.Error("submit crawl failed",
			zap.String("company_id", req.CompanyID),
			zap.String("agent_id", req.AgentID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit crawl")
		return
	}
	writeJSON(w, http.StatusAccepted, crawlAccepted{JobID: job.ID, Status: job.Status})
}

func (s *Server) crawlRequestFrom(body crawlRequest) (crawler.CrawlRequest, string) {
	companyID := strings.TrimSpace(body.CompanyID)
	agentID := strings.TrimSpace(body.AgentID)
	if companyID == "" || agentID == "" {
		return crawler.CrawlRequest{}, "company_id and agent_id are required"
	}
	rootURL := strings.TrimSpace(body.URL)
	if !strings.Contains(rootURL, "://") {
		rootURL = "https://" + rootURL
	}
	u, err := url.Parse(rootURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return crawler.CrawlRequest{}, "url must be an absolute http(s) URL"
	}
	budget := body.PageBudget
	switch {
	case budget < 0:
		return crawler.CrawlRequest{}, "page_budget must not be negative"
	case budget == 0:
		budget = s.cfg.DefaultPageBudget
	case budget > s.cfg.MaxPageBudget:
		budget = s.cfg.MaxPageBudget
	}
	return crawler.CrawlRequest{
		CompanyID:  companyID,
		AgentID:    agentID,
		RootURL:    u.String(),
		PageBudget: budget,
	}, ""
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job store is not configured")
		return
	}
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}
	job, err := s.deps.Jobs.GetJob(r.Context(), jobID.String())
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get crawl failed", zap.String("job_id", jobID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return jobID, true
}
