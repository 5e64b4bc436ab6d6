package httpserver

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/pool"
)

type createPoolRequest struct {
	Platform            string  `json:"platform"`
	Name                string  `json:"name"`
	MinContribution     float64 `json:"min_contribution"`
	MaxContribution     float64 `json:"max_contribution"`
	AutoRefillThreshold float64 `json:"auto_refill_threshold"`
	AutoRefillAmount    float64 `json:"auto_refill_amount"`
	IsPublic            bool    `json:"is_public"`
}

func (s *Server) handlePoolCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	var req createPoolRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	p, err := s.pools.Create(r.Context(), pool.CreateParams{
		OwnerID:             ownerID,
		Platform:            req.Platform,
		Name:                req.Name,
		MinContribution:     req.MinContribution,
		MaxContribution:     req.MaxContribution,
		AutoRefillThreshold: req.AutoRefillThreshold,
		AutoRefillAmount:    req.AutoRefillAmount,
		IsPublic:            req.IsPublic,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePoolList(w http.ResponseWriter, r *http.Request) {
	pools, err := s.pools.ListPublic(r.Context(), r.URL.Query().Get("platform"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"pools": pools, "count": len(pools)})
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	stats, err := s.pools.Stats(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

type contributeRequest struct {
	PlatformAccountID uuid.UUID `json:"platform_account_id"`
	Amount            float64   `json:"amount"`
}

func (s *Server) handlePoolContribute(w http.ResponseWriter, r *http.Request) {
	contributorID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	poolID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req contributeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	c, err := s.pools.Contribute(r.Context(), poolID, req.PlatformAccountID, contributorID, req.Amount, pool.ContributionManual)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handlePoolRefill(w http.ResponseWriter, r *http.Request) {
	poolID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	res, err := s.pools.AutoRefill(r.Context(), poolID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

type poolSessionRequest struct {
	RequestedAmount float64 `json:"requested_amount"`
	DurationHours   int     `json:"duration_hours"`
}

func (s *Server) handlePoolSessionCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	poolID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req poolSessionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.pools.CreateSession(r.Context(), poolID, userID, req.RequestedAmount, req.DurationHours)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordPoolSession(true)
	}
	s.respondJSON(w, http.StatusCreated, sess)
}

type poolUseRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handlePoolSessionUse(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req poolUseRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.pools.UseSession(r.Context(), sessionID, req.Amount)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePoolSessionComplete(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	sess, err := s.pools.CompleteSession(r.Context(), sessionID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordPoolSession(false)
	}
	s.respondJSON(w, http.StatusOK, sess)
}
