package card

import "errors"

var (
	// ErrNotFound covers unknown card ids and, deliberately, number/CVV
	// mismatches: a wrong CVV is indistinguishable from an unknown card.
	ErrNotFound = errors.New("card not found")

	// ErrNotActive is returned when the card sits in a terminal state.
	ErrNotActive = errors.New("card is not active")

	// ErrExpired is returned after the lazy expiry transition fires.
	ErrExpired = errors.New("card expired")

	// ErrDepleted is returned when the prepaid balance is exhausted.
	ErrDepleted = errors.New("card depleted")

	// ErrNotUsable is returned by Charge when the card fails the
	// active/unexpired/funded precondition.
	ErrNotUsable = errors.New("card is not usable")

	// ErrInsufficientBalance is returned when a charge exceeds the
	// remaining balance; the balance is left untouched.
	ErrInsufficientBalance = errors.New("insufficient card balance")

	// ErrInvalidAmount is returned for non-positive balances or charges.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAlreadyPurchased is returned when a buyer is already assigned.
	ErrAlreadyPurchased = errors.New("card already purchased")

	// ErrDuplicateNumber is returned by Store.Insert when the generated
	// card number collides; the generator retries with a fresh number.
	ErrDuplicateNumber = errors.New("card number already exists")
)
