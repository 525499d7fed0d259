package server

import (
	"context"
	"net/http"
	"time"

	"bitriver-relay/internal/models"
)

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type sessionsResponse struct {
	Active []models.ActiveSession `json:"active"`
	Recent []models.SessionRecord `json:"recent"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.archive.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := sessionsResponse{
		Active: s.registry.ActiveSessions(),
		Recent: []models.SessionRecord{},
	}
	if resp.Active == nil {
		resp.Active = []models.ActiveSession{}
	}
	if s.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		records, err := s.archive.ListRecords(ctx, s.recentLimit)
		if err != nil {
			s.logger.Error("list session records", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load session history")
			return
		}
		if records != nil {
			resp.Recent = records
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
