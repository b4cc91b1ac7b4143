package login

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trysts/auth-core/internal/identity"
	"github.com/trysts/auth-core/internal/infrastructure/config"
	"github.com/trysts/auth-core/internal/infrastructure/database"
	"github.com/trysts/auth-core/internal/infrastructure/logging"
	"github.com/trysts/auth-core/internal/otp"
	"github.com/trysts/auth-core/internal/token"
	_ "github.com/trysts/auth-core/migrations" // registers embedded migrations
)

const testSecret = "0123456789abcdef0123456789abcdef"

// fakeMail captures sent codes instead of delivering them.
type fakeMail struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (f *fakeMail) SendOTP(_ context.Context, to, code string, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codes == nil {
		f.codes = make(map[string]string)
	}
	f.codes[to] = code
	return nil
}

func (f *fakeMail) lastCode(to string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[to]
}

// fakeLedger is an in-memory revocation ledger.
type fakeLedger struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (f *fakeLedger) Revoke(_ context.Context, tokenString string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked == nil {
		f.revoked = make(map[string]bool)
	}
	f.revoked[tokenString] = true
	return nil
}

func (f *fakeLedger) IsRevoked(_ context.Context, tokenString string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[tokenString], nil
}

// fakeBus records published event types.
type fakeBus struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeBus) Publish(eventType string, _ interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeBus) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fixture struct {
	service *Service
	mail    *fakeMail
	ledger  *fakeLedger
	bus     *fakeBus
	users   *identity.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	security := config.SecurityConfig{
		JWT: config.JWTConfig{
			Secret:          testSecret,
			AccessTokenTTL:  15,
			RefreshTokenTTL: 7 * 24 * 60,
		},
		OTP: config.OTPConfig{Digits: 6, TTL: 5},
	}

	f := &fixture{
		mail:   &fakeMail{},
		ledger: &fakeLedger{},
		bus:    &fakeBus{},
		users:  identity.NewRepository(db),
	}
	f.service = NewService(Deps{
		Users:    f.users,
		Signer:   token.NewSigner(security.JWT.Secret, security.AccessTokenTTL(), security.RefreshTokenTTL()),
		Ledger:   f.ledger,
		Mail:     f.mail,
		Events:   f.bus,
		Logger:   logging.Default(),
		Security: security,
	})
	return f
}

// signIn runs Login then Verify and returns the resulting session.
func (f *fixture) signIn(t *testing.T, email string) *Session {
	t.Helper()
	ctx := context.Background()

	commitment, err := f.service.Login(ctx, email)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	session, err := f.service.Verify(ctx, f.mail.lastCode(email), email, commitment)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	return session
}

func TestLoginIssuesCommitment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	commitment, err := f.service.Login(ctx, "Dev@Example.com")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	// Email is normalised before the code is bound to it.
	code := f.mail.lastCode("dev@example.com")
	if len(code) != 6 {
		t.Fatalf("mailed code = %q, want 6 digits", code)
	}

	if err := otp.VerifyCommitment(code, "dev@example.com", commitment, time.Now()); err != nil {
		t.Errorf("commitment does not verify against the mailed code: %v", err)
	}

	// Login must not create an identity.
	if _, err := f.users.GetByEmail(ctx, "dev@example.com"); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("identity exists after login: %v", err)
	}
}

func TestLoginInvalidEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, email := range []string{"", "   ", "not-an-email", "two@@example.com"} {
		if _, err := f.service.Login(ctx, email); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("Login(%q) error: %v, want ErrInvalidEmail", email, err)
		}
	}
}

func TestLoginMailFailurePreservesClassification(t *testing.T) {
	f := newFixture(t)
	sentinel := errors.New("smtp down")
	f.mail.err = sentinel

	_, err := f.service.Login(context.Background(), "dev@example.com")
	if !errors.Is(err, sentinel) {
		t.Errorf("Login error: %v, want wrapped %v", err, sentinel)
	}
}

func TestVerifyCreatesIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.signIn(t, "dev@example.com")

	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("session missing tokens")
	}
	if session.User.Email != "dev@example.com" {
		t.Errorf("session user email = %q", session.User.Email)
	}
	if !strings.HasPrefix(session.User.Handler, "dev#") || len(session.User.Handler) != len("dev#")+4 {
		t.Errorf("handler = %q, want dev# plus 4 digits", session.User.Handler)
	}

	stored, err := f.users.GetByEmail(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}
	if stored.RefreshToken != session.RefreshToken {
		t.Error("stored refresh token does not match the issued one")
	}

	got := f.bus.published()
	if len(got) != 1 || got[0] != "user_created" {
		t.Errorf("published events = %v, want [user_created]", got)
	}
}

func TestVerifySecondSignInReusesIdentity(t *testing.T) {
	f := newFixture(t)

	first := f.signIn(t, "dev@example.com")
	second := f.signIn(t, "dev@example.com")

	if first.User.ID != second.User.ID {
		t.Errorf("second sign-in created a new identity: %s vs %s", first.User.ID, second.User.ID)
	}
	if first.User.Handler != second.User.Handler {
		t.Errorf("handler changed across sign-ins: %q vs %q", first.User.Handler, second.User.Handler)
	}

	// The second verification supersedes the first session's slot.
	stored, err := f.users.GetByEmail(context.Background(), "dev@example.com")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}
	if stored.RefreshToken != second.RefreshToken {
		t.Error("slot does not hold the latest refresh token")
	}

	got := f.bus.published()
	if len(got) != 2 || got[0] != "user_created" || got[1] != "user_updated" {
		t.Errorf("published events = %v, want [user_created user_updated]", got)
	}
}

func TestVerifyWrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	commitment, err := f.service.Login(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	wrong := "000000"
	if wrong == f.mail.lastCode("dev@example.com") {
		wrong = "000001"
	}

	_, err = f.service.Verify(ctx, wrong, "dev@example.com", commitment)
	if !errors.Is(err, otp.ErrCodeMismatch) {
		t.Errorf("Verify error: %v, want ErrCodeMismatch", err)
	}

	// Failed verification leaves no identity behind.
	if _, err := f.users.GetByEmail(ctx, "dev@example.com"); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("identity exists after failed verify: %v", err)
	}
}

func TestVerifyExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued := time.Now()
	f.service.now = func() time.Time { return issued }

	commitment, err := f.service.Login(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	code := f.mail.lastCode("dev@example.com")

	// Just past the five minute window.
	f.service.now = func() time.Time { return issued.Add(5*time.Minute + time.Millisecond) }

	_, err = f.service.Verify(ctx, code, "dev@example.com", commitment)
	if !errors.Is(err, otp.ErrChallengeExpired) {
		t.Errorf("Verify error: %v, want ErrChallengeExpired", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.signIn(t, "dev@example.com")

	rotated, err := f.service.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Error("refresh did not rotate the token")
	}
	if rotated.User.ID != session.User.ID {
		t.Error("refresh changed identity")
	}

	// The superseded token is dead on arrival.
	if _, err := f.service.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Errorf("replayed token error: %v, want ErrRefreshInvalid", err)
	}

	// The new token works.
	if _, err := f.service.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Errorf("rotated token refresh error: %v", err)
	}
}

func TestRefreshRevokedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.signIn(t, "dev@example.com")

	if err := f.service.Logout(ctx, session.RefreshToken); err != nil {
		t.Fatalf("Logout error: %v", err)
	}

	if _, err := f.service.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Errorf("revoked token error: %v, want ErrRefreshInvalid", err)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := f.service.Refresh(ctx, tok); !errors.Is(err, ErrRefreshInvalid) {
			t.Errorf("Refresh(%q) error: %v, want ErrRefreshInvalid", tok, err)
		}
	}
}

func TestRefreshAccessTokenRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.signIn(t, "dev@example.com")

	if _, err := f.service.Refresh(ctx, session.AccessToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Errorf("access token as refresh error: %v, want ErrRefreshInvalid", err)
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.signIn(t, "dev@example.com")

	const racers = 2
	results := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.service.Refresh(ctx, session.RefreshToken)
		}(i)
	}
	wg.Wait()

	var wins, invalid int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRefreshInvalid):
			invalid++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if wins != 1 || invalid != 1 {
		t.Errorf("wins = %d, invalid = %d, want exactly one of each", wins, invalid)
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.signIn(t, "dev@example.com")

	if err := f.service.Logout(ctx, session.RefreshToken); err != nil {
		t.Fatalf("Logout error: %v", err)
	}

	stored, err := f.users.GetByEmail(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}
	if stored.RefreshToken != "" {
		t.Error("slot not cleared after logout")
	}

	events := f.bus.published()
	if events[len(events)-1] != "token_revoked" {
		t.Errorf("last event = %q, want token_revoked", events[len(events)-1])
	}

	if err := f.service.Logout(ctx, "garbage"); !errors.Is(err, ErrRefreshInvalid) {
		t.Errorf("garbage logout error: %v, want ErrRefreshInvalid", err)
	}
}

func TestLogoutWithSupersededTokenKeepsWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.signIn(t, "dev@example.com")
	rotated, err := f.service.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	// Logging out with the old token revokes it but must not clear the
	// slot the rotation winner now occupies.
	if err := f.service.Logout(ctx, session.RefreshToken); err != nil {
		t.Fatalf("Logout error: %v", err)
	}

	stored, err := f.users.GetByEmail(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}
	if stored.RefreshToken != rotated.RefreshToken {
		t.Error("superseded logout cleared the winner's slot")
	}
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.signIn(t, "dev@example.com")

	who, err := f.service.Resolve(ctx, session.AccessToken)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if who.ID != session.User.ID || who.Email != "dev@example.com" {
		t.Errorf("Resolve = %+v", who)
	}

	if _, err := f.service.Resolve(ctx, "garbage"); !errors.Is(err, ErrUnauthorised) {
		t.Errorf("garbage resolve error: %v, want ErrUnauthorised", err)
	}

	// A refresh token is not an access token.
	if _, err := f.service.Resolve(ctx, session.RefreshToken); !errors.Is(err, ErrUnauthorised) {
		t.Errorf("refresh-as-access resolve error: %v, want ErrUnauthorised", err)
	}
}

func TestHandlersAreUnique(t *testing.T) {
	f := newFixture(t)

	a := f.signIn(t, "dev@example.com")
	b := f.signIn(t, "dev@another.example")

	if !strings.HasPrefix(b.User.Handler, "dev#") {
		t.Errorf("handler = %q, want dev# prefix", b.User.Handler)
	}
	if a.User.ID == b.User.ID {
		t.Error("distinct emails share an identity")
	}
}
