package httpserver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/subsplit/subsplit/internal/marketplace"
)

func (s *Server) handleMarketBrowse(w http.ResponseWriter, r *http.Request) {
	listings, err := s.market.Browse(r.Context(), marketplace.Filter{
		Platform:   r.URL.Query().Get("platform"),
		MaxPrice:   queryFloat(r, "max_price", 0),
		MinBalance: queryFloat(r, "min_balance", 0),
		Limit:      queryInt(r, "limit", 0),
		Offset:     queryInt(r, "offset", 0),
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"listings": listings, "count": len(listings)})
}

func (s *Server) handleMarketPurchase(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	cardID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	// The body is optional; an absent or empty body buys a single hour.
	var req struct {
		DurationHours int `json:"duration_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	txn, c, err := s.market.Purchase(r.Context(), buyerID, cardID, req.DurationHours)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordPurchase(c.Platform, txn.Amount)
	}
	// Purchase is the one place besides creation where the buyer learns
	// the card number and CVV.
	s.respondJSON(w, http.StatusOK, map[string]any{
		"transaction": txn,
		"card":        c,
		"card_number": c.Number,
		"cvv":         c.CVV,
	})
}

func (s *Server) handleMarketPurchases(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	txns, err := s.market.Purchases(r.Context(), buyerID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"transactions": txns, "count": len(txns)})
}

func (s *Server) handleMarketSales(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	txns, err := s.market.Sales(r.Context(), sellerID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"transactions": txns, "count": len(txns)})
}
