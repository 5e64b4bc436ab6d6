package platform

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/account"
	"github.com/subsplit/subsplit/internal/card"
	"github.com/subsplit/subsplit/internal/cardnum"
	"github.com/subsplit/subsplit/internal/usage"
)

// DefaultSessionDuration is the access-session lifetime when the caller
// does not pick one.
const DefaultSessionDuration = time.Hour

// RunResult is the outcome of one executed request: the provider response,
// the metering record written for it, and the card balance left afterwards.
type RunResult struct {
	Response         Response    `json:"response"`
	Usage            usage.Entry `json:"usage"`
	RemainingBalance float64     `json:"remaining_balance"`
}

// Runner drives buyer access to purchased cards: it opens provider
// sessions, executes requests, and performs the meter-then-charge sequence.
// Metering and billing stay separate steps so a platform failure is
// recorded but never billed.
type Runner struct {
	store    Store
	provider Provider
	cards    *card.Service
	meter    *usage.Service
	accounts account.Store

	logger   *log.Logger
	duration time.Duration
	now      func() time.Time
}

// NewRunner wires a runner over the given provider and services.
func NewRunner(store Store, provider Provider, cards *card.Service, meter *usage.Service, accounts account.Store) *Runner {
	return &Runner{
		store:    store,
		provider: provider,
		cards:    cards,
		meter:    meter,
		accounts: accounts,
		logger:   log.New(log.Writer(), "[platform] ", log.LstdFlags|log.Lmicroseconds),
		duration: DefaultSessionDuration,
		now:      time.Now,
	}
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(logger *log.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetDuration overrides the default access-session lifetime.
func (r *Runner) SetDuration(d time.Duration) {
	if d > 0 {
		r.duration = d
	}
}

// SetClock overrides the time source. Tests only.
func (r *Runner) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

// StartSession opens provider access to a purchased card for its buyer.
func (r *Runner) StartSession(ctx context.Context, buyerID, cardID uuid.UUID) (Session, error) {
	c, err := r.cards.Get(ctx, cardID)
	if err != nil {
		return Session{}, err
	}
	if c.BuyerID == nil || *c.BuyerID != buyerID {
		return Session{}, ErrNotSessionOwner
	}
	now := r.now()
	if !c.Usable(now) {
		return Session{}, card.ErrNotUsable
	}

	acct, err := r.accounts.GetPlatformAccount(ctx, c.PlatformAccountID)
	if err != nil {
		return Session{}, fmt.Errorf("load platform account: %w", err)
	}
	token, err := cardnum.SessionToken()
	if err != nil {
		return Session{}, err
	}
	handle, err := r.provider.OpenSession(ctx, acct)
	if err != nil {
		return Session{}, fmt.Errorf("open provider session: %w", err)
	}

	s := Session{
		ID:                uuid.New(),
		BuyerID:           buyerID,
		CardID:            c.ID,
		PlatformAccountID: c.PlatformAccountID,
		Platform:          c.Platform,
		Token:             token,
		ProviderHandle:    string(handle),
		Status:            SessionActive,
		StartedAt:         now,
		ExpiresAt:         now.Add(r.duration),
	}
	if err := r.store.InsertAccessSession(ctx, s); err != nil {
		if cerr := r.provider.CloseSession(ctx, handle); cerr != nil {
			r.logf("close orphaned provider session %s: %v", handle, cerr)
		}
		return Session{}, fmt.Errorf("insert access session: %w", err)
	}
	r.logf("session %s opened on card %s (%s) for buyer %s", s.ID, c.ID, c.Platform, buyerID)
	return s, nil
}

// ExecuteRequest runs one request through the provider, meters it, then
// charges the card with the metered actual cost.
func (r *Runner) ExecuteRequest(ctx context.Context, buyerID, sessionID uuid.UUID, req Request) (RunResult, error) {
	s, err := r.store.GetAccessSession(ctx, sessionID)
	if err != nil {
		return RunResult{}, err
	}
	if s.BuyerID != buyerID {
		return RunResult{}, ErrNotSessionOwner
	}
	now := r.now()
	if s.Status == SessionActive && s.Expired(now) {
		if _, err := r.store.TerminateAccessSession(ctx, s.ID, SessionExpired, now); err != nil {
			return RunResult{}, fmt.Errorf("expire access session: %w", err)
		}
		return RunResult{}, ErrSessionNotActive
	}
	if s.Status != SessionActive {
		return RunResult{}, ErrSessionNotActive
	}

	c, err := r.cards.Get(ctx, s.CardID)
	if err != nil {
		return RunResult{}, err
	}
	if !c.Usable(now) {
		return RunResult{}, card.ErrNotUsable
	}

	resp, execErr := r.provider.Execute(ctx, Handle(s.ProviderHandle), req)

	params := usage.RecordParams{
		SessionID:      s.ID,
		CardID:         c.ID,
		UserID:         buyerID,
		Platform:       c.Platform,
		RequestType:    req.Type,
		RequestSize:    int64(len(req.Message)),
		CostMultiplier: c.DemandMultiplier,
		LatencyMS:      resp.LatencyMS,
	}
	if execErr != nil {
		// Failed requests are logged with zero cost and never billed.
		params.Success = false
		params.ErrorMessage = execErr.Error()
		if _, merr := r.meter.RecordUsage(ctx, params); merr != nil {
			r.logf("record failed usage for session %s: %v", s.ID, merr)
		}
		return RunResult{}, fmt.Errorf("execute request: %w", execErr)
	}
	params.Success = true
	params.ResponseSize = int64(len(resp.Text))
	params.BaseCost = resp.Cost

	entry, err := r.meter.RecordUsage(ctx, params)
	if err != nil {
		return RunResult{}, fmt.Errorf("record usage: %w", err)
	}

	charged, err := r.cards.Charge(ctx, c.ID, entry.ActualCost)
	if err != nil {
		if errors.Is(err, card.ErrInsufficientBalance) || errors.Is(err, card.ErrDepleted) {
			r.logf("card %s cannot cover %.4f, terminating session %s", c.ID, entry.ActualCost, s.ID)
			if _, terr := r.store.TerminateAccessSession(ctx, s.ID, SessionTerminated, now); terr != nil {
				r.logf("terminate session %s: %v", s.ID, terr)
			}
		}
		return RunResult{}, err
	}
	return RunResult{
		Response:         resp,
		Usage:            entry,
		RemainingBalance: charged.CurrentBalance,
	}, nil
}

// EndSession terminates an access session and releases the provider side.
// Ending an already-ended session is a no-op.
func (r *Runner) EndSession(ctx context.Context, buyerID, sessionID uuid.UUID) (Session, error) {
	s, err := r.store.GetAccessSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.BuyerID != buyerID {
		return Session{}, ErrNotSessionOwner
	}
	now := r.now()
	changed, err := r.store.TerminateAccessSession(ctx, s.ID, SessionTerminated, now)
	if err != nil {
		return Session{}, err
	}
	if changed {
		if cerr := r.provider.CloseSession(ctx, Handle(s.ProviderHandle)); cerr != nil {
			r.logf("close provider session for %s: %v", s.ID, cerr)
		}
	}
	return r.store.GetAccessSession(ctx, s.ID)
}

// Sessions lists the buyer's access sessions, newest first.
func (r *Runner) Sessions(ctx context.Context, buyerID uuid.UUID) ([]Session, error) {
	return r.store.ListAccessSessionsByBuyer(ctx, buyerID)
}
