package events

import (
	"encoding/json"
	"errors"
	"testing"
)

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeLogger struct {
	warns int
}

func (f *fakeLogger) Warn(string, ...any)  { f.warns++ }
func (f *fakeLogger) Debug(string, ...any) {}

func TestPublish(t *testing.T) {
	pub := &fakePublisher{}
	bus := &Bus{client: pub, qos: 1, logger: &fakeLogger{}}

	bus.Publish(UserCreated, map[string]string{"id": "usr-1", "email": "dev@example.com"})

	if len(pub.topics) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.topics))
	}
	if pub.topics[0] != "trysts/auth/event/user_created" {
		t.Errorf("topic = %q", pub.topics[0])
	}

	var env envelope
	if err := json.Unmarshal(pub.payloads[0], &env); err != nil {
		t.Fatalf("unmarshalling envelope: %v", err)
	}
	if env.Type != UserCreated {
		t.Errorf("envelope type = %q, want %q", env.Type, UserCreated)
	}
	if env.ID == "" || env.Timestamp.IsZero() {
		t.Errorf("envelope missing generated fields: %+v", env)
	}
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	log := &fakeLogger{}
	bus := &Bus{
		client: &fakePublisher{err: errors.New("broker gone")},
		qos:    1,
		logger: log,
	}

	// Must not panic and must not propagate the error.
	bus.Publish(TokenRotated, map[string]string{"id": "usr-1"})

	if log.warns != 1 {
		t.Errorf("logged %d warnings, want 1", log.warns)
	}
}

func TestPublishDisabledBus(t *testing.T) {
	// Nil bus and bus without a client are both safe no-ops.
	var nilBus *Bus
	nilBus.Publish(UserCreated, nil)

	NewBus(nil, 1, &fakeLogger{}).Publish(UserCreated, nil)
}
