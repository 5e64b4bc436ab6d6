package pool

import "errors"

var (
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPoolNotActive is returned when contributing to or drawing from a
	// pool that is inactive, suspended or depleted.
	ErrPoolNotActive = errors.New("pool is not active")

	// ErrAmountOutOfRange is returned when a contribution falls outside
	// the pool's [min_contribution, max_contribution] window.
	ErrAmountOutOfRange = errors.New("contribution amount out of range")

	// ErrInsufficientSourceCredits is returned when the funding platform
	// account cannot cover the contribution.
	ErrInsufficientSourceCredits = errors.New("insufficient credits in platform account")

	// ErrInsufficientPoolBalance is returned when a session allocation
	// exceeds the pool's available balance.
	ErrInsufficientPoolBalance = errors.New("insufficient pool balance")

	ErrSessionNotFound = errors.New("pool session not found")

	// ErrSessionNotActive covers completed and expired sessions, and a
	// repeated CompleteSession call.
	ErrSessionNotActive = errors.New("pool session is not active")

	// ErrAllocationExceeded is the overdraft guard: used_amount + amount
	// would exceed the fixed reservation.
	ErrAllocationExceeded = errors.New("session allocation exceeded")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)
