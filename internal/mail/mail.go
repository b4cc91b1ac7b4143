// Package mail delivers one-time passcodes over SMTP.
//
// Delivery failures are classified as retryable or permanent so the
// login flow can tell the client whether asking again might help.
package mail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/trysts/auth-core/internal/infrastructure/config"
)

// Delivery errors. Both wrap the underlying transport error.
var (
	// ErrRetryable means delivery failed for a transient reason: the
	// server was unreachable or deferred the message.
	ErrRetryable = errors.New("mail: transient delivery failure")

	// ErrPermanent means the server definitively rejected the message.
	ErrPermanent = errors.New("mail: permanent delivery failure")
)

//go:embed templates/*.html.tmpl
var templatesFS embed.FS

// Message carries what the OTP template needs to render.
type Message struct {
	Code      string
	ExpiresAt time.Time
	Minutes   int
}

// Sender delivers OTP mail over SMTP.
type Sender struct {
	cfg  config.SMTPConfig
	tmpl *template.Template

	// sendMail is injectable for tests. Defaults to smtp.SendMail.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSender creates a Sender from SMTP config. It fails only if the
// embedded template does not parse, which is a build defect.
func NewSender(cfg config.SMTPConfig) (*Sender, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing mail templates: %w", err)
	}

	return &Sender{
		cfg:      cfg,
		tmpl:     tmpl,
		sendMail: smtp.SendMail,
	}, nil
}

// SendOTP delivers a passcode to an address.
//
// The returned error is nil, ErrRetryable or ErrPermanent; callers
// surface the classification to the client untouched.
func (s *Sender) SendOTP(ctx context.Context, to, code string, expiresAt time.Time) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrRetryable, ctx.Err())
	default:
	}

	minutes := int(time.Until(expiresAt).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var body bytes.Buffer
	err := s.tmpl.ExecuteTemplate(&body, "otp_email.html.tmpl", Message{
		Code:      code,
		ExpiresAt: expiresAt,
		Minutes:   minutes,
	})
	if err != nil {
		return fmt.Errorf("%w: rendering template: %w", ErrPermanent, err)
	}

	msg := buildMessage(s.cfg.From, to, "Your sign-in code", body.Bytes())

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := s.sendMail(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return classify(err)
	}
	return nil
}

// buildMessage assembles RFC 5322 headers and the HTML body.
func buildMessage(from, to, subject string, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// permanentFailureFloor is the first SMTP status code that means the
// server will never accept this message.
const permanentFailureFloor = 500

// classify maps a transport error to ErrRetryable or ErrPermanent.
//
// SMTP 5xx replies are permanent. Everything else, including 4xx
// deferrals and network failures, is worth retrying.
func classify(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= permanentFailureFloor {
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	}

	return fmt.Errorf("%w: %w", ErrRetryable, err)
}
