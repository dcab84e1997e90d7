package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitechat/ingest/internal/pipeline"
)

const (
	defaultErrorLimit = 50
	maxErrorLimit     = 500
)

type startCrawlRequest struct {
	Domain        string `json:"domain"`
	ForceRescrape bool   `json:"force_rescrape"`
	MaxPages      int    `json:"max_pages"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Domain == "" {
		writeError(s.logger, w, http.StatusUnprocessableEntity, "domain is required")
		return
	}
	if req.MaxPages < 0 {
		writeError(s.logger, w, http.StatusUnprocessableEntity, "max_pages must be non-negative")
		return
	}

	jobID, err := s.crawls.StartCrawl(r.Context(), pipeline.CrawlRequest{
		Domain:        req.Domain,
		ForceRescrape: req.ForceRescrape,
		MaxPages:      req.MaxPages,
	})
	if err != nil {
		s.writeCrawlError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"job_id": jobID.String()})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobIDParam(w, r)
	if !ok {
		return
	}
	job, err := s.crawls.GetJobStatus(r.Context(), jobID)
	if err != nil {
		s.writeCrawlError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, job)
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobIDParam(w, r)
	if !ok {
		return
	}
	if err := s.crawls.CancelCrawl(r.Context(), jobID); err != nil {
		s.writeCrawlError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"job_id": jobID.String()})
}

func (s *Server) listPageErrors(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobIDParam(w, r)
	if !ok {
		return
	}
	// 404 for unknown jobs, empty list for known jobs without errors.
	if _, err := s.crawls.GetJobStatus(r.Context(), jobID); err != nil {
		s.writeCrawlError(w, err)
		return
	}

	limit := queryInt(r, "limit", defaultErrorLimit)
	if limit <= 0 || limit > maxErrorLimit {
		limit = defaultErrorLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	pageErrors, err := s.errs.ListPageErrors(r.Context(), jobID, limit, offset)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "list page errors failed")
		return
	}
	if pageErrors == nil {
		pageErrors = []pipeline.PageError{}
	}
	writeJSON(s.logger, w, http.StatusOK, pageErrors)
}

func (s *Server) jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(s.logger, w, http.StatusNotFound, "job not found")
		return uuid.Nil, false
	}
	return jobID, true
}

// writeCrawlError maps runner sentinels onto HTTP statuses.
func (s *Server) writeCrawlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrLockHeld):
		writeError(s.logger, w, http.StatusConflict, "a crawl for this domain is already running")
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(s.logger, w, http.StatusNotFound, "job not found")
	case errors.Is(err, pipeline.ErrInvalidDomain):
		writeError(s.logger, w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pipeline.ErrTooManyJobs):
		writeError(s.logger, w, http.StatusTooManyRequests, err.Error())
	default:
		s.logger.Error("crawl operation failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
