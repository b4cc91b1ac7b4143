package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}

	if got := topics.Event("user_created"); got != "trysts/auth/event/user_created" {
		t.Errorf("Event = %q", got)
	}
	if got := topics.Event("token_rotated"); got != "trysts/auth/event/token_rotated" {
		t.Errorf("Event = %q", got)
	}
	if got := topics.SystemStatus(); got != "trysts/auth/system/status" {
		t.Errorf("SystemStatus = %q", got)
	}
}
