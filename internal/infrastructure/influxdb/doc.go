// Package influxdb writes Gatekeeper security metrics to InfluxDB v2.
//
// The audit metrics sink turns every audit event into a point in the
// security_events measurement (tags: event_type, severity, outcome) so
// login failure rates and anomaly bursts can be graphed and alerted on.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics are optional
//	}
//	defer client.Close()
//
// Writes are batched (batch_size, flush_interval) and never block the
// caller. Async write errors are delivered to the SetOnError callback.
package influxdb
