package httpserver

import (
	"net/http"

	"github.com/google/uuid"
)

type generateCardRequest struct {
	PlatformAccountID uuid.UUID `json:"platform_account_id"`
	Platform          string    `json:"platform"`
	InitialBalance    float64   `json:"initial_balance"`
	PricePerHour      float64   `json:"price_per_hour"`
	ExpiryHours       int       `json:"expiry_hours"`
}

func (s *Server) handleCardGenerate(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	var req generateCardRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	c, err := s.cards.Generate(r.Context(), sellerID, req.PlatformAccountID, req.Platform, req.InitialBalance, req.PricePerHour, req.ExpiryHours)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	// The card number and CVV are returned exactly once, at creation.
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"card":        c,
		"card_number": c.Number,
		"cvv":         c.CVV,
	})
}

type validateCardRequest struct {
	CardNumber string `json:"card_number"`
	CVV        string `json:"cvv"`
}

func (s *Server) handleCardValidate(w http.ResponseWriter, r *http.Request) {
	var req validateCardRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	v, err := s.cards.Validate(r.Context(), req.CardNumber, req.CVV)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleCardGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	c, err := s.cards.Get(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

type chargeCardRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handleCardCharge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req chargeCardRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	c, err := s.cards.Charge(r.Context(), id, req.Amount)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordCharge(c.Platform, req.Amount)
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleCardDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.cards.Deactivate(r.Context(), id); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

func (s *Server) handleCardUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	entries, err := s.usageLog.ListRecentByCard(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
