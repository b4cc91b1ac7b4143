package mqtt

import "fmt"

// topicPrefix is the root namespace for all auth core topics.
const topicPrefix = "trysts/auth"

// Topics provides structured topic generation for the auth event namespace.
//
// Topic structure:
//
//	trysts/auth/event/{event_type}   - entity change events (QoS 1, not retained)
//	trysts/auth/system/status        - service online/offline status (QoS 1, retained)
//
// Event types: user_created, user_updated, token_rotated, token_revoked.
//
// Usage:
//
//	topics := mqtt.Topics{}
//	topic := topics.Event("user_created")
type Topics struct{}

// Event returns the topic for an entity change event.
//
// Parameters:
//   - eventType: Event identifier (e.g., "user_created", "token_rotated")
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", topicPrefix, eventType)
}

// SystemStatus returns the topic for service online/offline status.
//
// Published retained so new subscribers immediately learn the current
// state. The Last Will message is registered on this topic.
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", topicPrefix)
}
