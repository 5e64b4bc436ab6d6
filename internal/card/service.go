package card

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/cardnum"
)

// DefaultExpiry is applied when a card is generated without an explicit
// expiry window.
const DefaultExpiry = 24 * time.Hour

// maxNumberAttempts bounds the regeneration loop on number collisions.
const maxNumberAttempts = 10

// Validation is the successful outcome of Service.Validate.
type Validation struct {
	CardID   uuid.UUID `json:"card_id"`
	Balance  float64   `json:"balance"`
	Platform string    `json:"platform"`
}

// Service owns the virtual card lifecycle: generation, validation, charging
// and deactivation. It is the sole mutator of card balances.
type Service struct {
	store  Store
	logger *log.Logger
	expiry time.Duration
	now    func() time.Time
}

// NewService creates a card service with the default expiry window.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: log.New(log.Writer(), "[card] ", log.LstdFlags|log.Lmicroseconds),
		expiry: DefaultExpiry,
		now:    time.Now,
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (s *Service) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetExpiry overrides the default expiry window; non-positive keeps the default.
func (s *Service) SetExpiry(d time.Duration) {
	if d > 0 {
		s.expiry = d
	}
}

// SetClock overrides the time source, for tests.
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

// Generate creates a new active card funded with initialBalance. The card
// number is regenerated on collision rather than surfacing a failure.
func (s *Service) Generate(ctx context.Context, sellerID, platformAccountID uuid.UUID, platform string, initialBalance, pricePerHour float64, expiryHours int) (Card, error) {
	if initialBalance <= 0 {
		return Card{}, fmt.Errorf("initial balance %.2f: %w", initialBalance, ErrInvalidAmount)
	}
	expiry := s.expiry
	if expiryHours > 0 {
		expiry = time.Duration(expiryHours) * time.Hour
	}
	now := s.now().UTC()

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number, err := cardnum.Number()
		if err != nil {
			return Card{}, err
		}
		cvv, err := cardnum.CVV()
		if err != nil {
			return Card{}, err
		}
		activated := now
		c := Card{
			ID:                uuid.New(),
			Number:            number,
			CVV:               cvv,
			SellerID:          sellerID,
			PlatformAccountID: platformAccountID,
			Platform:          platform,
			InitialBalance:    initialBalance,
			CurrentBalance:    initialBalance,
			BasePrice:         pricePerHour,
			CurrentPrice:      pricePerHour,
			DemandMultiplier:  1.0,
			Status:            StatusActive,
			CreatedAt:         now,
			ActivatedAt:       &activated,
			ExpiresAt:         now.Add(expiry),
		}
		err = s.store.Insert(ctx, c)
		if errors.Is(err, ErrDuplicateNumber) {
			continue
		}
		if err != nil {
			return Card{}, err
		}
		s.logf("card generated card_id=%s seller_id=%s balance=%.2f", c.ID, sellerID, initialBalance)
		return c, nil
	}
	return Card{}, fmt.Errorf("card number generation exhausted %d attempts", maxNumberAttempts)
}

// Validate looks up a card by exact number and CVV, applying the lazy status
// transition before returning a verdict. A wrong CVV reports ErrNotFound so
// probing cannot distinguish "unknown number" from "known number, wrong CVV".
func (s *Service) Validate(ctx context.Context, number, cvv string) (Validation, error) {
	c, err := s.store.GetByNumber(ctx, number)
	if err != nil {
		return Validation{}, err
	}
	if subtle.ConstantTimeCompare([]byte(c.CVV), []byte(cvv)) != 1 {
		return Validation{}, ErrNotFound
	}
	c, err = s.normalize(ctx, c)
	if err != nil {
		return Validation{}, err
	}
	switch {
	case c.Status == StatusExpired:
		return Validation{}, ErrExpired
	case c.Status == StatusDepleted:
		return Validation{}, ErrDepleted
	case c.Status != StatusActive:
		return Validation{}, fmt.Errorf("status %s: %w", c.Status, ErrNotActive)
	}
	return Validation{CardID: c.ID, Balance: c.CurrentBalance, Platform: c.Platform}, nil
}

// Charge deducts amount from the card. The balance check and decrement are a
// single atomic step inside the store.
func (s *Service) Charge(ctx context.Context, id uuid.UUID, amount float64) (Card, error) {
	if amount <= 0 {
		return Card{}, fmt.Errorf("charge %.2f: %w", amount, ErrInvalidAmount)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return Card{}, err
	}
	c, err := s.store.Charge(ctx, id, amount, s.now().UTC())
	if err != nil {
		return Card{}, err
	}
	s.logf("card charged card_id=%s amount=%.4f remaining=%.4f", id, amount, c.CurrentBalance)
	return c, nil
}

// Deactivate forces the card into cancelled. Calling it on a card that is
// already terminal is a no-op success.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return nil
	}
	if _, err := s.store.Transition(ctx, id, StatusActive, StatusCancelled); err != nil {
		return err
	}
	s.logf("card deactivated card_id=%s", id)
	return nil
}

// Get returns the card after applying the lazy status transition.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Card, error) {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Card{}, err
	}
	return s.normalize(ctx, c)
}

// normalize transitions a stale active card to expired or depleted based on
// the current time and balance. It runs at the top of every accessor so the
// stored state stays consistent without a background sweeper.
func (s *Service) normalize(ctx context.Context, c Card) (Card, error) {
	if c.Status != StatusActive {
		return c, nil
	}
	target := Status("")
	switch {
	case c.Expired(s.now().UTC()):
		target = StatusExpired
	case c.Depleted():
		target = StatusDepleted
	default:
		return c, nil
	}
	moved, err := s.store.Transition(ctx, c.ID, StatusActive, target)
	if err != nil {
		return Card{}, err
	}
	if moved {
		c.Status = target
		s.logf("card normalized card_id=%s status=%s", c.ID, target)
		return c, nil
	}
	// Lost the race to another accessor; re-read the settled state.
	return s.store.GetByID(ctx, c.ID)
}
