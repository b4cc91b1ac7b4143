// Package otp generates one-time passcodes and the stateless challenge
// commitments that bind them to an email and an expiry.
//
// The server stores nothing between issuing a code and verifying it: the
// commitment handed to the client carries everything needed to check the
// code later, and tampering with any part of it changes the hash.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Generate returns a passcode of exactly the requested number of ASCII
// digits, drawn from crypto/rand. Leading zeros are preserved, so every
// code has uniform length.
//
// A failure of the system's randomness source is not recoverable here;
// callers should treat the error as fatal for the request.
func Generate(digits int) (string, error) {
	if digits < 1 {
		return "", fmt.Errorf("generating otp: digits must be positive, got %d", digits)
	}

	// Upper bound is 10^digits, exclusive.
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generating otp: %w", err)
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}
