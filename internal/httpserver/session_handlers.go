package httpserver

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/platform"
)

type startSessionRequest struct {
	CardID uuid.UUID `json:"card_id"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	var req startSessionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.runner.StartSession(r.Context(), buyerID, req.CardID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	sessions, err := s.runner.Sessions(r.Context(), buyerID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

type executeRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) handleSessionExecute(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	sessionID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req executeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	result, err := s.runner.ExecuteRequest(r.Context(), buyerID, sessionID, platform.Request{
		Type:    req.Type,
		Message: req.Message,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordUsageCost(result.Usage.Platform, result.Usage.ActualCost)
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	sessionID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	sess, err := s.runner.EndSession(r.Context(), buyerID, sessionID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUserUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	entries, err := s.usageLog.ListRecentByUser(r.Context(), userID, queryInt(r, "limit", 100))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
