// Package sweep runs periodic maintenance over the marketplace state.
// Lazy normalization on read remains the correctness mechanism; the sweeper
// just keeps listings and pool books from going stale between reads.
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/subsplit/subsplit/internal/card"
	"github.com/subsplit/subsplit/internal/pool"
	"github.com/subsplit/subsplit/internal/pricing"
)

// Sweeper expires overdue cards and pool sessions, tops up pools below
// their refill threshold, and recomputes demand-driven prices.
type Sweeper struct {
	cards    card.Store
	pools    *pool.Service
	poolList pool.Store
	pricing  *pricing.Engine

	interval time.Duration
	logger   *log.Logger
	now      func() time.Time
}

// New creates a sweeper. Any of pools, poolList or pricing may be nil to
// skip the corresponding pass.
func New(cards card.Store, pools *pool.Service, poolList pool.Store, engine *pricing.Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		cards:    cards,
		pools:    pools,
		poolList: poolList,
		pricing:  engine,
		interval: interval,
		logger:   log.New(log.Writer(), "[sweep] ", log.LstdFlags|log.Lmicroseconds),
		now:      time.Now,
	}
}

// SetLogger replaces the sweeper's logger.
func (s *Sweeper) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClock overrides the time source. Tests only.
func (s *Sweeper) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Run loops until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Printf("sweeper started interval=%s", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass. Each sub-pass logs and continues on
// failure so one broken subsystem cannot starve the others.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.expireCards(ctx)
	s.expirePoolSessions(ctx)
	s.refillPools(ctx)
	s.updatePrices(ctx)
}

func (s *Sweeper) expireCards(ctx context.Context) {
	if s.cards == nil {
		return
	}
	active, err := s.cards.ListActive(ctx)
	if err != nil {
		s.logger.Printf("list active cards: %v", err)
		return
	}
	now := s.now().UTC()
	var expired int
	for _, c := range active {
		if !c.Expired(now) {
			continue
		}
		changed, err := s.cards.Transition(ctx, c.ID, card.StatusActive, card.StatusExpired)
		if err != nil {
			s.logger.Printf("expire card %s: %v", c.ID, err)
			continue
		}
		if changed {
			expired++
		}
	}
	if expired > 0 {
		s.logger.Printf("expired %d cards", expired)
	}
}

func (s *Sweeper) expirePoolSessions(ctx context.Context) {
	if s.pools == nil {
		return
	}
	n, err := s.pools.ExpireSessions(ctx)
	if err != nil {
		s.logger.Printf("expire pool sessions: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("expired %d pool sessions", n)
	}
}

func (s *Sweeper) refillPools(ctx context.Context) {
	if s.pools == nil || s.poolList == nil {
		return
	}
	pools, err := s.poolList.ListActivePools(ctx)
	if err != nil {
		s.logger.Printf("list pools: %v", err)
		return
	}
	for _, p := range pools {
		if p.AutoRefillThreshold <= 0 || p.CurrentBalance >= p.AutoRefillThreshold {
			continue
		}
		res, err := s.pools.AutoRefill(ctx, p.ID)
		if err != nil {
			s.logger.Printf("auto-refill pool %s: %v", p.ID, err)
			continue
		}
		if res.Refilled > 0 {
			s.logger.Printf("refilled pool %s amount=%.2f contributors=%d", p.ID, res.Refilled, res.Contributors)
		}
	}
}

func (s *Sweeper) updatePrices(ctx context.Context) {
	if s.pricing == nil {
		return
	}
	updated, err := s.pricing.BulkUpdate(ctx)
	if err != nil {
		s.logger.Printf("bulk price update: %v", err)
		return
	}
	var total int
	for _, n := range updated {
		total += n
	}
	if total > 0 {
		s.logger.Printf("updated prices for %d cards", total)
	}
}
