package usage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// RecordParams carries the inputs for one metering record.
type RecordParams struct {
	SessionID      uuid.UUID
	CardID         uuid.UUID
	UserID         uuid.UUID
	Platform       string
	RequestType    string
	RequestSize    int64
	ResponseSize   int64
	BaseCost       float64
	CostMultiplier float64
	LatencyMS      int64
	Success        bool
	ErrorMessage   string
}

// Service appends metering records. It never touches card balances: charging
// the metered cost is the caller's explicit second step, so a failed platform
// request can be logged without being billed.
type Service struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// NewService creates a metering service.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: log.New(log.Writer(), "[usage] ", log.LstdFlags|log.Lmicroseconds),
		now:    time.Now,
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (s *Service) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecordUsage writes one append-only entry with actual_cost computed from the
// base cost and multiplier, and returns the entry including the cost the
// caller should charge.
func (s *Service) RecordUsage(ctx context.Context, p RecordParams) (Entry, error) {
	if p.BaseCost < 0 {
		return Entry{}, fmt.Errorf("base cost %.4f must not be negative", p.BaseCost)
	}
	multiplier := p.CostMultiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}
	e := Entry{
		ID:             uuid.New(),
		SessionID:      p.SessionID,
		CardID:         p.CardID,
		UserID:         p.UserID,
		Platform:       p.Platform,
		RequestType:    p.RequestType,
		RequestSize:    p.RequestSize,
		ResponseSize:   p.ResponseSize,
		BaseCost:       p.BaseCost,
		ActualCost:     p.BaseCost * multiplier,
		CostMultiplier: multiplier,
		LatencyMS:      p.LatencyMS,
		Success:        p.Success,
		ErrorMessage:   p.ErrorMessage,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Record(ctx, e); err != nil {
		return Entry{}, err
	}
	if s.logger != nil {
		s.logger.Printf("usage recorded session_id=%s card_id=%s cost=%.4f success=%v", e.SessionID, e.CardID, e.ActualCost, e.Success)
	}
	return e, nil
}
