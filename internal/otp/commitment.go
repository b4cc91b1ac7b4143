package otp

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verification errors. The HTTP layer maps these to distinct error codes
// so clients can tell an expired challenge from a wrong code.
var (
	// ErrChallengeExpired means the commitment's validity window has passed.
	ErrChallengeExpired = errors.New("otp: challenge expired")

	// ErrCodeMismatch means the presented code does not match the commitment.
	ErrCodeMismatch = errors.New("otp: code does not match challenge")

	// ErrMalformedCommitment means the commitment string is not in the
	// expected hash.millis form.
	ErrMalformedCommitment = errors.New("otp: malformed commitment")
)

// Commit produces the stateless challenge commitment for a code issued to
// an email, valid until expiresAt.
//
// Format: hex(SHA-256(email + "." + code + "." + millis)) + "." + millis,
// where millis is the expiry as Unix milliseconds in decimal. The trailing
// expiry is plaintext on purpose: verification needs it to recompute the
// hash, and moving it forward invalidates the hash.
func Commit(email, code string, expiresAt time.Time) string {
	millis := strconv.FormatInt(expiresAt.UnixMilli(), 10)
	return digest(email, code, millis) + "." + millis
}

// VerifyCommitment checks a presented code against a commitment.
//
// Expiry is checked first: a commitment whose expiry is strictly before
// now fails with ErrChallengeExpired. Verification at the exact expiry
// millisecond succeeds. Only then is the hash recomputed and compared in
// constant time, failing with ErrCodeMismatch.
//
// The check is stateless: nothing marks a commitment as used, so it
// verifies repeatedly until it expires. Callers needing single-use
// semantics must track consumed commitments themselves.
func VerifyCommitment(code, email, commitment string, now time.Time) error {
	hashPart, millisPart, ok := splitCommitment(commitment)
	if !ok {
		return ErrMalformedCommitment
	}

	expiry, err := strconv.ParseInt(millisPart, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedCommitment, err)
	}

	if now.UnixMilli() > expiry {
		return ErrChallengeExpired
	}

	expected := digest(email, code, millisPart)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(hashPart)) != 1 {
		return ErrCodeMismatch
	}

	return nil
}

// splitCommitment separates the hash and expiry halves of a commitment.
// The hash is always 64 hex characters, so the last "." is the separator.
func splitCommitment(commitment string) (hash, millis string, ok bool) {
	idx := strings.LastIndex(commitment, ".")
	if idx <= 0 || idx == len(commitment)-1 {
		return "", "", false
	}
	hash = commitment[:idx]
	millis = commitment[idx+1:]
	if len(hash) != sha256.Size*2 {
		return "", "", false
	}
	return hash, millis, true
}

// digest computes the commitment hash over email, code and expiry millis.
func digest(email, code, millis string) string {
	sum := sha256.Sum256([]byte(email + "." + code + "." + millis))
	return hex.EncodeToString(sum[:])
}
