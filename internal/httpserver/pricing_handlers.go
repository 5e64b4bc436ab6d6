package httpserver

import (
	"errors"
	"net/http"
)

func (s *Server) handlePricingMultiplier(w http.ResponseWriter, r *http.Request) {
	platformName := r.URL.Query().Get("platform")
	if platformName == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("platform is required"))
		return
	}
	mult, err := s.pricing.DemandMultiplier(r.Context(), platformName, r.URL.Query().Get("region"), queryInt(r, "window_hours", 0))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"platform":          platformName,
		"demand_multiplier": mult,
	})
}

func (s *Server) handlePricingTrend(w http.ResponseWriter, r *http.Request) {
	platformName := r.URL.Query().Get("platform")
	if platformName == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("platform is required"))
		return
	}
	report, err := s.pricing.Trend(r.Context(), platformName, queryInt(r, "days", 7))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handlePricingPredict(w http.ResponseWriter, r *http.Request) {
	platformName := r.URL.Query().Get("platform")
	if platformName == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("platform is required"))
		return
	}
	basePrice := queryFloat(r, "base_price", 0)
	if basePrice <= 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("base_price must be positive"))
		return
	}
	pred, err := s.pricing.PredictOptimalPrice(r.Context(), platformName, basePrice, queryFloat(r, "target_utilization", 80))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, pred)
}

func (s *Server) handlePricingUpdateCard(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	price, err := s.pricing.UpdateCardPrice(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"card_id": id, "current_price": price})
}

func (s *Server) handlePricingBulkUpdate(w http.ResponseWriter, r *http.Request) {
	updated, err := s.pricing.BulkUpdate(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"updated_by_platform": updated})
}
