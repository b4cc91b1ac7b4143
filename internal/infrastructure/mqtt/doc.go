// Package mqtt provides MQTT client connectivity for the auth core.
//
// The auth core publishes entity-change events (user created/updated,
// token rotated/revoked) to the broker so that sibling services can
// react without being called synchronously. The client manages
// auto-reconnect with exponential backoff and a Last Will message for
// offline detection.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Event("user_created")
//	client.Publish(topic, payload, 1, false)
package mqtt
