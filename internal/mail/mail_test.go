package mail

import (
	"context"
	"errors"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/trysts/auth-core/internal/infrastructure/config"
)

func newTestSender(t *testing.T) *Sender {
	t.Helper()

	s, err := NewSender(config.SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "auth@example.com",
	})
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}
	return s
}

func TestSendOTP(t *testing.T) {
	s := newTestSender(t)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := s.SendOTP(context.Background(), "dev@example.com", "042531", time.Now().Add(5*time.Minute))
	if err != nil {
		t.Fatalf("SendOTP error: %v", err)
	}

	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "auth@example.com" {
		t.Errorf("from = %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "dev@example.com" {
		t.Errorf("to = %v", gotTo)
	}

	body := string(gotMsg)
	if !strings.Contains(body, "042531") {
		t.Error("message body missing the code")
	}
	if !strings.Contains(body, "Content-Type: text/html") {
		t.Error("message missing HTML content type header")
	}
	if !strings.Contains(body, "5 minutes") {
		t.Error("message body missing the expiry window")
	}
}

func TestSendOTPClassification(t *testing.T) {
	tests := []struct {
		name    string
		sendErr error
		wantErr error
	}{
		{
			name:    "smtp 550 rejection is permanent",
			sendErr: &textproto.Error{Code: 550, Msg: "mailbox unavailable"},
			wantErr: ErrPermanent,
		},
		{
			name:    "smtp 421 deferral is retryable",
			sendErr: &textproto.Error{Code: 421, Msg: "try again later"},
			wantErr: ErrRetryable,
		},
		{
			name:    "connection failure is retryable",
			sendErr: errors.New("dial tcp: connection refused"),
			wantErr: ErrRetryable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSender(t)
			s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
				return tt.sendErr
			}

			err := s.SendOTP(context.Background(), "dev@example.com", "123456", time.Now().Add(5*time.Minute))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SendOTP error: %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSendOTPCancelledContext(t *testing.T) {
	s := newTestSender(t)
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("sendMail should not be called with cancelled context")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SendOTP(ctx, "dev@example.com", "123456", time.Now().Add(5*time.Minute))
	if !errors.Is(err, ErrRetryable) {
		t.Errorf("SendOTP error: %v, want ErrRetryable", err)
	}
}
