package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// Measurement names for auth flow metrics.
const (
	// measurementAuthFlow records the outcome of each authentication flow.
	measurementAuthFlow = "auth_flow"

	// measurementMailDelivery records OTP mail delivery attempts.
	measurementMailDelivery = "mail_delivery"
)

// RecordAuthFlow writes an auth flow outcome point.
//
// Writes are non-blocking and batched; failures surface via the error
// callback, never to the caller. The flow tag is one of login, verify,
// refresh, logout. The outcome tag is success or a short failure code
// (e.g. "expired_challenge").
//
// Parameters:
//   - flow: Which authentication flow produced the outcome
//   - outcome: Result classification for the flow
//   - duration: How long the flow took end to end
func (c *Client) RecordAuthFlow(flow, outcome string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := influxdb2.NewPoint(
		measurementAuthFlow,
		map[string]string{
			"flow":    flow,
			"outcome": outcome,
		},
		map[string]interface{}{
			"count":       1,
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// RecordMailDelivery writes an OTP mail delivery attempt point.
//
// The outcome tag is "sent", "retryable_failure", or "permanent_failure".
func (c *Client) RecordMailDelivery(outcome string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := influxdb2.NewPoint(
		measurementMailDelivery,
		map[string]string{
			"outcome": outcome,
		},
		map[string]interface{}{
			"count":       1,
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
