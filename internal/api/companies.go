package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

type questionRequest struct {
	Question string `json:"question"`
}

type searchResponse struct {
	Results []crawler.SearchResult `json:"results"`
}

type knowledgeRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type deleteChunksResponse struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	companyID, question, ok := s.question(w, r)
	if !ok {
		return
	}
	results, err := s.deps.Search.Search(r.Context(), companyID, question)
	if err != nil {
		s.logger.Error("search failed", zap.String("company_id", companyID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []crawler.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request) {
	if s.deps.Answers == nil {
		writeError(w, http.StatusServiceUnavailable, "answering is not configured")
		return
	}
	companyID, question, ok := s.question(w, r)
	if !ok {
		return
	}
	ans, err := s.deps.Answers.Answer(r.Context(), companyID, question)
	if err != nil {
		s.logger.Error("answer failed", zap.String("company_id", companyID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "answer failed")
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) question(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	companyID := strings.TrimSpace(chi.URLParam(r, "company_id"))
	var body questionRequest
	if !decodeJSON(w, r, &body) {
		return "", "", false
	}
	question := strings.TrimSpace(body.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return "", "", false
	}
	return companyID, question, true
}

func (s *Server) putKnowledge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil || s.deps.Embedder == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge is not configured")
		return
	}
	companyID := strings.TrimSpace(chi.URLParam(r, "company_id"))
	var body knowledgeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	title := strings.TrimSpace(body.Title)
	content := strings.TrimSpace(body.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	vectors, err := s.deps.Embedder.Embed(r.Context(), []string{title + "\n" + content})
	if err != nil || len(vectors) != 1 {
		s.logger.Error("embed knowledge failed", zap.String("company_id", companyID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to embed knowledge")
		return
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.logger.Error("generate knowledge id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store knowledge")
		return
	}
	entry := crawler.CustomKnowledgeEntry{
		ID:        id,
		CompanyID: companyID,
		Title:     title,
		Content:   content,
		Vector:    vectors[0],
	}
	if err := s.deps.Knowledge.PutKnowledge(r.Context(), entry); err != nil {
		s.logger.Error("store knowledge failed", zap.String("company_id", companyID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store knowledge")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) deleteChunks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chunks == nil {
		writeError(w, http.StatusServiceUnavailable, "chunk store is not configured")
		return
	}
	companyID := strings.TrimSpace(chi.URLParam(r, "company_id"))
	agentID := strings.TrimSpace(chi.URLParam(r, "agent_id"))
	deleted, err := s.deps.Chunks.DeleteChunks(r.Context(), companyID, agentID)
	if err != nil {
		s.logger.Error("delete chunks failed",
			zap.String("company_id", companyID),
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete chunks")
		return
	}
	writeJSON(w, http.StatusOK, deleteChunksResponse{Deleted: deleted})
}
