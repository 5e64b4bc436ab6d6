package pool

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/cardnum"
)

// Pool configuration defaults, applied when CreatePool receives zero values.
const (
	DefaultMinContribution     = 1.0
	DefaultMaxContribution     = 100.0
	DefaultAutoRefillThreshold = 5.0
	DefaultAutoRefillAmount    = 10.0
	DefaultSessionDuration     = time.Hour
)

// CreateParams carries the caller-supplied pool configuration.
type CreateParams struct {
	OwnerID             uuid.UUID
	Platform            string
	Name                string
	MinContribution     float64
	MaxContribution     float64
	AutoRefillThreshold float64
	AutoRefillAmount    float64
	IsPublic            bool
}

// RefillResult reports the outcome of an auto-refill pass.
type RefillResult struct {
	Needed       bool    `json:"needed"`
	Refilled     float64 `json:"refilled"`
	Contributors int     `json:"contributors"`
	Skipped      int     `json:"skipped"`
}

// Service owns the shared-pool lifecycle: funding, session allocation,
// metered drawdown and reconciliation.
type Service struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// NewService creates a pool service.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: log.New(log.Writer(), "[pool] ", log.LstdFlags|log.Lmicroseconds),
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

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Create creates an empty active pool.
func (s *Service) Create(ctx context.Context, params CreateParams) (Pool, error) {
	if params.MinContribution <= 0 {
		params.MinContribution = DefaultMinContribution
	}
	if params.MaxContribution <= 0 {
		params.MaxContribution = DefaultMaxContribution
	}
	if params.AutoRefillThreshold <= 0 {
		params.AutoRefillThreshold = DefaultAutoRefillThreshold
	}
	if params.AutoRefillAmount <= 0 {
		params.AutoRefillAmount = DefaultAutoRefillAmount
	}
	if params.MinContribution > params.MaxContribution {
		return Pool{}, fmt.Errorf("min contribution %.2f above max %.2f: %w", params.MinContribution, params.MaxContribution, ErrInvalidAmount)
	}
	now := s.now().UTC()
	p := Pool{
		ID:                  uuid.New(),
		OwnerID:             params.OwnerID,
		Platform:            params.Platform,
		Name:                params.Name,
		MinContribution:     params.MinContribution,
		MaxContribution:     params.MaxContribution,
		AutoRefillThreshold: params.AutoRefillThreshold,
		AutoRefillAmount:    params.AutoRefillAmount,
		Status:              StatusActive,
		IsPublic:            params.IsPublic,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.InsertPool(ctx, p); err != nil {
		return Pool{}, err
	}
	s.logf("pool created pool_id=%s owner_id=%s platform=%s", p.ID, p.OwnerID, p.Platform)
	return p, nil
}

// Contribute moves amount from the contributor's platform account into the
// pool. Validation runs here; the credit movement itself is one transaction
// in the store.
func (s *Service) Contribute(ctx context.Context, poolID, accountID, contributorID uuid.UUID, amount float64, typ ContributionType) (Contribution, error) {
	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return Contribution{}, err
	}
	if p.Status != StatusActive {
		return Contribution{}, fmt.Errorf("pool %s status %s: %w", poolID, p.Status, ErrPoolNotActive)
	}
	if amount < p.MinContribution || amount > p.MaxContribution {
		return Contribution{}, fmt.Errorf("amount %.2f outside [%.2f, %.2f]: %w", amount, p.MinContribution, p.MaxContribution, ErrAmountOutOfRange)
	}
	if typ == "" {
		typ = ContributionManual
	}
	c := Contribution{
		ID:                uuid.New(),
		PoolID:            poolID,
		PlatformAccountID: accountID,
		ContributorID:     contributorID,
		Amount:            amount,
		Type:              typ,
		Status:            ContributionActive,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.store.Contribute(ctx, c); err != nil {
		return Contribution{}, err
	}
	s.logf("contribution made pool_id=%s contribution_id=%s amount=%.2f type=%s", poolID, c.ID, amount, typ)
	return c, nil
}

// CreateSession reserves requestedAmount from the pool's available balance
// for one user, valid for durationHours.
func (s *Service) CreateSession(ctx context.Context, poolID, userID uuid.UUID, requestedAmount float64, durationHours int) (Session, error) {
	if requestedAmount <= 0 {
		return Session{}, fmt.Errorf("requested %.2f: %w", requestedAmount, ErrInvalidAmount)
	}
	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return Session{}, err
	}
	if p.Status != StatusActive {
		return Session{}, fmt.Errorf("pool %s status %s: %w", poolID, p.Status, ErrPoolNotActive)
	}
	token, err := cardnum.SessionToken()
	if err != nil {
		return Session{}, err
	}
	duration := DefaultSessionDuration
	if durationHours > 0 {
		duration = time.Duration(durationHours) * time.Hour
	}
	now := s.now().UTC()
	sess := Session{
		ID:              uuid.New(),
		PoolID:          poolID,
		UserID:          userID,
		Token:           token,
		AllocatedAmount: requestedAmount,
		Status:          SessionActive,
		CreatedAt:       now,
		ExpiresAt:       now.Add(duration),
	}
	if err := s.store.AllocateSession(ctx, sess); err != nil {
		return Session{}, err
	}
	s.logf("pool session created pool_id=%s session_id=%s allocated=%.2f", poolID, sess.ID, requestedAmount)
	return sess, nil
}

// UseSession draws amount from the session's reservation. The overdraft
// guard is a hard ceiling enforced atomically by the store.
func (s *Service) UseSession(ctx context.Context, sessionID uuid.UUID, amount float64) (Session, error) {
	if amount <= 0 {
		return Session{}, fmt.Errorf("amount %.2f: %w", amount, ErrInvalidAmount)
	}
	sess, err := s.store.UseSession(ctx, sessionID, amount, s.now().UTC())
	if err != nil {
		return Session{}, err
	}
	s.logf("pool session used session_id=%s amount=%.4f used=%.4f/%.4f", sessionID, amount, sess.UsedAmount, sess.AllocatedAmount)
	return sess, nil
}

// CompleteSession returns the unused allocation to the pool. The store's
// status guard makes a repeated call fail without double-crediting.
func (s *Service) CompleteSession(ctx context.Context, sessionID uuid.UUID) (Session, error) {
	sess, err := s.store.CompleteSession(ctx, sessionID, s.now().UTC())
	if err != nil {
		return Session{}, err
	}
	s.logf("pool session completed session_id=%s unused=%.4f", sessionID, sess.Remaining())
	return sess, nil
}

// Stats returns the aggregate view of a pool.
func (s *Service) Stats(ctx context.Context, poolID uuid.UUID) (Stats, error) {
	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return Stats{}, err
	}
	contributions, err := s.store.ListContributions(ctx, poolID)
	if err != nil {
		return Stats{}, err
	}
	active, err := s.store.CountActiveSessions(ctx, poolID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pool:               p,
		ContributionsCount: len(contributions),
		ActiveSessions:     active,
		Utilization:        p.Utilization(),
	}, nil
}

// ListPublic returns public active pools, optionally filtered by platform.
func (s *Service) ListPublic(ctx context.Context, platform string) ([]Pool, error) {
	return s.store.ListPublic(ctx, platform)
}

// AutoRefill pulls the pool's refill amount from each distinct contributing
// platform account that can afford it, through the same validation path as
// Contribute. A failure for one contributor is logged and skipped; already
// applied contributions stay applied.
func (s *Service) AutoRefill(ctx context.Context, poolID uuid.UUID) (RefillResult, error) {
	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return RefillResult{}, err
	}
	if p.CurrentBalance > p.AutoRefillThreshold {
		return RefillResult{Needed: false}, nil
	}
	contributions, err := s.store.ListContributions(ctx, poolID)
	if err != nil {
		return RefillResult{}, err
	}

	result := RefillResult{Needed: true}
	seen := make(map[uuid.UUID]struct{})
	for _, c := range contributions {
		if c.Status != ContributionActive {
			continue
		}
		if _, ok := seen[c.PlatformAccountID]; ok {
			continue
		}
		seen[c.PlatformAccountID] = struct{}{}

		if _, err := s.Contribute(ctx, poolID, c.PlatformAccountID, c.ContributorID, p.AutoRefillAmount, ContributionAuto); err != nil {
			s.logf("auto-refill skipped pool_id=%s account_id=%s: %v", poolID, c.PlatformAccountID, err)
			result.Skipped++
			continue
		}
		result.Refilled += p.AutoRefillAmount
		result.Contributors++
	}
	s.logf("pool auto-refilled pool_id=%s refilled=%.2f contributors=%d skipped=%d", poolID, result.Refilled, result.Contributors, result.Skipped)
	return result, nil
}

// ExpireSessions releases unused allocations of every active session past
// its expiry. Lazy checks on use keep correctness; this keeps reporting
// accurate between reads.
func (s *Service) ExpireSessions(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireSessions(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if len(expired) > 0 {
		s.logf("expired %d pool sessions", len(expired))
	}
	return len(expired), nil
}
