// Package mqtt publishes Gatekeeper audit events to an MQTT broker.
//
// Other services (SIEM forwarders, alerting bridges) subscribe to
// gatekeeper/security/# to receive every login attempt, permission change,
// denial and anomaly as JSON. Gatekeeper itself never subscribes.
//
// On connect the client publishes a retained online status to
// gatekeeper/status; the broker publishes the registered will (offline,
// unexpected_disconnect) if the process dies. Close publishes a graceful
// offline status before disconnecting.
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishEvent(mqtt.Topics{}.SecurityEvent("ANOMALY"), payload)
//
// Reconnection uses paho's built-in exponential backoff bounded by
// reconnect.initial_delay and reconnect.max_delay.
package mqtt
