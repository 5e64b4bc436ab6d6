package marketplace

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/card"
)

const defaultListingLimit = 50

// Service fronts the marketplace store with input validation and logging.
type Service struct {
	store  Store
	cards  *card.Service
	logger *log.Logger
	now    func() time.Time
}

// NewService creates a marketplace service.
func NewService(store Store, cards *card.Service) *Service {
	return &Service{
		store:  store,
		cards:  cards,
		logger: log.New(log.Writer(), "[marketplace] ", log.LstdFlags|log.Lmicroseconds),
		now:    time.Now,
	}
}

// SetLogger replaces the service logger.
func (s *Service) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Browse returns available listings matching the filter.
func (s *Service) Browse(ctx context.Context, f Filter) ([]Listing, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = defaultListingLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListAvailable(ctx, f)
}

// Purchase buys durationHours of access to the card for the buyer at the
// card's current hourly price. Zero or negative duration means one hour.
// The returned card includes the number and CVV the buyer now owns.
func (s *Service) Purchase(ctx context.Context, buyerID, cardID uuid.UUID, durationHours int) (Transaction, card.Card, error) {
	if durationHours <= 0 {
		durationHours = 1
	}
	// Normalize first so a card that ran out its clock since the listing
	// was rendered is refused, not sold.
	c, err := s.cards.Get(ctx, cardID)
	if err != nil {
		return Transaction{}, card.Card{}, err
	}
	if c.SellerID == buyerID {
		return Transaction{}, card.Card{}, ErrOwnCard
	}
	tx, bought, err := s.store.Purchase(ctx, buyerID, cardID, durationHours, s.now())
	if err != nil {
		return Transaction{}, card.Card{}, err
	}
	s.logf("card %s sold to %s for %.2f (%s)", bought.ID, buyerID, tx.Amount, bought.Platform)
	return tx, bought, nil
}

// Purchases lists the buyer's settled purchases, newest first.
func (s *Service) Purchases(ctx context.Context, buyerID uuid.UUID) ([]Transaction, error) {
	return s.store.ListPurchases(ctx, buyerID)
}

// Sales lists the seller's settled sales, newest first.
func (s *Service) Sales(ctx context.Context, sellerID uuid.UUID) ([]Transaction, error) {
	return s.store.ListSales(ctx, sellerID)
}
