// Package login orchestrates the passwordless authentication flows.
//
// The four flows are: request a code (Login), exchange code for tokens
// (Verify), rotate the refresh token (Refresh) and end the session
// (Logout). Resolve turns a bearer access token back into an identity
// for request authorisation.
package login

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/trysts/auth-core/internal/audit"
	"github.com/trysts/auth-core/internal/events"
	"github.com/trysts/auth-core/internal/identity"
	"github.com/trysts/auth-core/internal/infrastructure/config"
	"github.com/trysts/auth-core/internal/infrastructure/logging"
	"github.com/trysts/auth-core/internal/otp"
	"github.com/trysts/auth-core/internal/token"
)

// Flow errors surfaced to the HTTP layer.
var (
	// ErrInvalidEmail means the submitted email does not parse.
	ErrInvalidEmail = errors.New("login: invalid email address")

	// ErrRefreshInvalid covers every way a presented refresh token can
	// be unusable: malformed, expired, revoked, rotated away or bound
	// to an unknown identity. The cases are deliberately not
	// distinguishable from outside.
	ErrRefreshInvalid = errors.New("login: refresh token invalid")

	// ErrUnauthorised means an access token failed verification or its
	// identity no longer exists.
	ErrUnauthorised = errors.New("login: unauthorised")
)

// handlerSuffixDigits is the length of the random digit suffix appended
// to generated handlers.
const handlerSuffixDigits = 4

// UserStore is the identity persistence the flows need.
type UserStore interface {
	Create(ctx context.Context, email, handler string) (*identity.User, error)
	GetByEmail(ctx context.Context, email string) (*identity.User, error)
	GetByID(ctx context.Context, id string) (*identity.User, error)
	SetRefreshToken(ctx context.Context, id, refreshToken string) error
	RotateRefreshToken(ctx context.Context, id, presented, next string) error
	ClearRefreshToken(ctx context.Context, id, presented string) error
}

// RevocationLedger tracks refresh tokens that were explicitly killed.
type RevocationLedger interface {
	Revoke(ctx context.Context, tokenString string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenString string) (bool, error)
}

// OTPSender delivers passcodes.
type OTPSender interface {
	SendOTP(ctx context.Context, to, code string, expiresAt time.Time) error
}

// EventBus publishes auth event notifications.
type EventBus interface {
	Publish(eventType string, data interface{})
}

// MailMetrics records OTP delivery timings.
type MailMetrics interface {
	RecordMailDelivery(outcome string, duration time.Duration)
}

// AuditRecorder appends flow outcomes to the audit trail.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Session is the outcome of a successful Verify or Refresh.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         identity.Public
}

// Deps are the collaborators a Service needs. Events, Audit and
// Metrics may be nil; the corresponding side effects are skipped.
type Deps struct {
	Users    UserStore
	Signer   *token.Signer
	Ledger   RevocationLedger
	Mail     OTPSender
	Events   EventBus
	Audit    AuditRecorder
	Metrics  MailMetrics
	Logger   *logging.Logger
	Security config.SecurityConfig
}

// Service implements the authentication flows.
type Service struct {
	deps Deps

	// now is injectable for tests.
	now func() time.Time
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	return &Service{
		deps: deps,
		now:  time.Now,
	}
}

// Login starts a passwordless sign-in: generate a code, mail it, and
// hand back the challenge commitment the client must echo to Verify.
//
// The identity store is untouched. A user record is only created once
// the email's owner proves control of the inbox, so unverified login
// attempts leave no trace beyond the audit trail.
//
// Mail failures are returned with their retryable or permanent
// classification intact.
func (s *Service) Login(ctx context.Context, email string) (string, error) {
	email, err := normaliseEmail(email)
	if err != nil {
		return "", err
	}

	code, err := otp.Generate(s.deps.Security.OTP.Digits)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	expiresAt := s.now().Add(s.deps.Security.OTPTTL())
	commitment := otp.Commit(email, code, expiresAt)

	sendStart := time.Now()
	if err := s.deps.Mail.SendOTP(ctx, email, code, expiresAt); err != nil {
		s.recordMailDelivery("failure", time.Since(sendStart))
		s.record(ctx, audit.FlowLogin, email, "mail_failure")
		return "", fmt.Errorf("login: sending code: %w", err)
	}
	s.recordMailDelivery("delivered", time.Since(sendStart))

	s.record(ctx, audit.FlowLogin, email, "code_sent")
	s.deps.Logger.Info("otp issued", "email", email, "expires_at", expiresAt)

	return commitment, nil
}

// Verify exchanges a correct code for a token pair.
//
// On first successful verification an identity is created with a
// generated handler. The refresh slot is overwritten unconditionally:
// proving control of the inbox supersedes any existing session.
func (s *Service) Verify(ctx context.Context, code, email, commitment string) (*Session, error) {
	email, err := normaliseEmail(email)
	if err != nil {
		return nil, err
	}

	if err := otp.VerifyCommitment(code, email, commitment, s.now()); err != nil {
		s.record(ctx, audit.FlowVerify, email, verifyOutcome(err))
		return nil, fmt.Errorf("verify: %w", err)
	}

	user, created, err := s.findOrCreateUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	pair, err := s.deps.Signer.Issue(email)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	if err := s.deps.Users.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	if created {
		s.publish(events.UserCreated, user.Public())
	} else {
		// A repeat sign-in supersedes the stored refresh slot.
		s.publish(events.UserUpdated, user.Public())
	}
	s.record(ctx, audit.FlowVerify, email, "success")
	s.deps.Logger.Info("identity verified", "email", email, "user_id", user.ID, "created", created)

	return &Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         user.Public(),
	}, nil
}

// Refresh rotates a presented refresh token for a fresh pair.
//
// The presented token must verify, must not be in the revocation
// ledger, and must still occupy its identity's slot. The slot swap is
// a conditional update, so when two refreshes race with the same token
// exactly one wins. The losing caller, and anyone replaying a
// rotated-away token, gets ErrRefreshInvalid with no further detail.
func (s *Service) Refresh(ctx context.Context, presented string) (*Session, error) {
	claims, err := s.deps.Signer.VerifyRefresh(presented)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w: %w", ErrRefreshInvalid, err)
	}

	revoked, err := s.deps.Ledger.IsRevoked(ctx, presented)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if revoked {
		s.record(ctx, audit.FlowRefresh, claims.Email(), "revoked_token")
		return nil, fmt.Errorf("refresh: %w: token revoked", ErrRefreshInvalid)
	}

	// Lookup is by the email inside the verified token, never by the
	// token string itself.
	user, err := s.deps.Users.GetByEmail(ctx, claims.Email())
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, fmt.Errorf("refresh: %w: unknown identity", ErrRefreshInvalid)
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}

	pair, err := s.deps.Signer.Issue(claims.Email())
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	if err := s.deps.Users.RotateRefreshToken(ctx, user.ID, presented, pair.RefreshToken); err != nil {
		if errors.Is(err, identity.ErrStaleRefreshToken) {
			s.record(ctx, audit.FlowRefresh, claims.Email(), "stale_token")
			return nil, fmt.Errorf("refresh: %w: %w", ErrRefreshInvalid, err)
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}

	// Dead-letter the old token for its remaining lifetime. Rotation
	// already removed it from the slot; the ledger entry closes the
	// window where a copy could race a second rotation elsewhere.
	if err := s.deps.Ledger.Revoke(ctx, presented, claims.ExpiresAt.Time); err != nil {
		s.deps.Logger.Warn("revoking rotated token failed", "error", err)
	}

	s.publish(events.TokenRotated, map[string]string{"user_id": user.ID})
	s.record(ctx, audit.FlowRefresh, claims.Email(), "success")

	return &Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         user.Public(),
	}, nil
}

// Logout revokes a presented refresh token and clears its slot.
//
// Logout with an already-rotated token still records the revocation but
// leaves the winning session's slot alone.
func (s *Service) Logout(ctx context.Context, presented string) error {
	claims, err := s.deps.Signer.VerifyRefresh(presented)
	if err != nil {
		return fmt.Errorf("logout: %w: %w", ErrRefreshInvalid, err)
	}

	if err := s.deps.Ledger.Revoke(ctx, presented, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	user, err := s.deps.Users.GetByEmail(ctx, claims.Email())
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("logout: %w", err)
	}

	if err := s.deps.Users.ClearRefreshToken(ctx, user.ID, presented); err != nil {
		if !errors.Is(err, identity.ErrStaleRefreshToken) {
			return fmt.Errorf("logout: %w", err)
		}
	}

	s.publish(events.TokenRevoked, map[string]string{"user_id": user.ID})
	s.record(ctx, audit.FlowLogout, claims.Email(), "success")
	s.deps.Logger.Info("session ended", "user_id", user.ID)

	return nil
}

// Resolve authenticates a bearer access token and returns the reduced
// identity it belongs to. Every failure mode collapses into
// ErrUnauthorised.
func (s *Service) Resolve(ctx context.Context, accessToken string) (identity.Public, error) {
	claims, err := s.deps.Signer.VerifyAccess(accessToken)
	if err != nil {
		return identity.Public{}, fmt.Errorf("resolve: %w: %w", ErrUnauthorised, err)
	}

	user, err := s.deps.Users.GetByEmail(ctx, claims.Email())
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Public{}, fmt.Errorf("resolve: %w: unknown identity", ErrUnauthorised)
		}
		return identity.Public{}, fmt.Errorf("resolve: %w", err)
	}

	return user.Public(), nil
}

// findOrCreateUser returns the identity for an email, creating it with
// a generated handler on first verification.
func (s *Service) findOrCreateUser(ctx context.Context, email string) (user *identity.User, created bool, err error) {
	user, err = s.deps.Users.GetByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, false, err
	}

	handler, err := generateHandler(email)
	if err != nil {
		return nil, false, err
	}

	user, err = s.deps.Users.Create(ctx, email, handler)
	if err != nil {
		// A concurrent Verify for the same email may have won the insert.
		if errors.Is(err, identity.ErrDuplicateEmail) {
			user, err = s.deps.Users.GetByEmail(ctx, email)
			return user, false, err
		}
		return nil, false, err
	}
	return user, true, nil
}

// generateHandler derives a display handler from the email's local
// part plus a random digit suffix, e.g. "dev#4821".
func generateHandler(email string) (string, error) {
	local := email
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}

	suffix, err := otp.Generate(handlerSuffixDigits)
	if err != nil {
		return "", fmt.Errorf("generating handler: %w", err)
	}
	return local + "#" + suffix, nil
}

// normaliseEmail lowercases, trims and validates an email address.
func normaliseEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %s", ErrInvalidEmail, email)
	}
	return email, nil
}

// verifyOutcome maps a commitment verification error to an audit outcome.
func verifyOutcome(err error) string {
	switch {
	case errors.Is(err, otp.ErrChallengeExpired):
		return "expired_challenge"
	case errors.Is(err, otp.ErrCodeMismatch), errors.Is(err, otp.ErrMalformedCommitment):
		return "invalid_challenge"
	default:
		return "failure"
	}
}

// record appends to the audit trail when a recorder is configured.
// Audit failures are logged, never propagated.
func (s *Service) record(ctx context.Context, flow, email, outcome string) {
	if s.deps.Audit == nil {
		return
	}
	entry := audit.Entry{Flow: flow, Email: email, Outcome: outcome}
	if err := s.deps.Audit.Record(ctx, entry); err != nil {
		s.deps.Logger.Warn("audit record failed", "flow", flow, "error", err)
	}
}

// recordMailDelivery emits a delivery timing when metrics are configured.
func (s *Service) recordMailDelivery(outcome string, duration time.Duration) {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.RecordMailDelivery(outcome, duration)
}

// publish emits an event when a bus is configured.
func (s *Service) publish(eventType string, data interface{}) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.Publish(eventType, data)
}
