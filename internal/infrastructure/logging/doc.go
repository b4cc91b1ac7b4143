// Package logging provides structured logging for the auth core.
//
// It wraps log/slog with level filtering, JSON or text output, and
// default service/version attributes on every entry.
//
// Never log secrets: no OTP codes, no tokens, no commitments. Log the
// email and the outcome, not the credential.
package logging
