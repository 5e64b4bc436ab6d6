package cardnum

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	// Prefix is the leading digit of every generated card number.
	Prefix = "4"
	// NumberLength is the total digit count including the prefix.
	NumberLength = 16
	// CVVLength is the digit count of the verification value.
	CVVLength = 3

	tokenBytes = 32
)

// Number returns a random card number: Prefix followed by random digits up to
// NumberLength. Uniqueness is the caller's concern; on a duplicate the caller
// regenerates rather than failing.
func Number() (string, error) {
	digits, err := randomDigits(NumberLength - len(Prefix))
	if err != nil {
		return "", fmt.Errorf("generate card number: %w", err)
	}
	return Prefix + digits, nil
}

// CVV returns a random numeric verification value.
func CVV() (string, error) {
	digits, err := randomDigits(CVVLength)
	if err != nil {
		return "", fmt.Errorf("generate cvv: %w", err)
	}
	return digits, nil
}

// SessionToken returns an unguessable URL-safe token for pool and access sessions.
func SessionToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func randomDigits(n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = byte('0' + v.Int64())
	}
	return string(out), nil
}
