package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/account"
)

// Loopback is an in-process provider for development and tests. It echoes
// the request back and derives a deterministic cost from the message size,
// so end-to-end flows can be exercised without touching a real platform.
type Loopback struct {
	// CostPerChar is the charge per request character. Defaults to 0.001.
	CostPerChar float64
	// Latency is the simulated per-request latency. Defaults to zero.
	Latency time.Duration

	mu   sync.Mutex
	open map[Handle]string
}

var _ Provider = (*Loopback)(nil)

// NewLoopback creates a loopback provider with default cost settings.
func NewLoopback() *Loopback {
	return &Loopback{
		CostPerChar: 0.001,
		open:        make(map[Handle]string),
	}
}

func (l *Loopback) OpenSession(ctx context.Context, acct account.PlatformAccount) (Handle, error) {
	if acct.Status != account.AccountActive {
		return "", fmt.Errorf("loopback: account %s is %s", acct.ID, acct.Status)
	}
	h := Handle("loopback-" + uuid.NewString())
	l.mu.Lock()
	if l.open == nil {
		l.open = make(map[Handle]string)
	}
	l.open[h] = string(acct.Platform)
	l.mu.Unlock()
	return h, nil
}

func (l *Loopback) Execute(ctx context.Context, h Handle, req Request) (Response, error) {
	l.mu.Lock()
	platform, ok := l.open[h]
	l.mu.Unlock()
	if !ok {
		return Response{}, fmt.Errorf("loopback: unknown session handle %q", h)
	}
	if l.Latency > 0 {
		select {
		case <-time.After(l.Latency):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	cost := float64(len(req.Message)) * l.CostPerChar
	if cost <= 0 {
		cost = l.CostPerChar
	}
	return Response{
		Text:      fmt.Sprintf("[%s echo] %s", platform, req.Message),
		Cost:      cost,
		LatencyMS: l.Latency.Milliseconds(),
	}, nil
}

func (l *Loopback) CloseSession(ctx context.Context, h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.open[h]; !ok {
		return fmt.Errorf("loopback: unknown session handle %q", h)
	}
	delete(l.open, h)
	return nil
}
