package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerrad567/gatekeeper/internal/infrastructure/logging"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/mqtt"
)

// LogSink writes each event as one structured log line. INFO events log at
// info, WARN at warn, ERROR and CRITICAL at error.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "security")}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Write implements Sink.
func (s *LogSink) Write(ctx context.Context, ev Event) error {
	attrs := []any{
		"event_id", ev.ID,
		"event_type", ev.Kind,
		"severity", ev.Severity,
		"timestamp", ev.Timestamp,
	}
	if ev.User != "" {
		attrs = append(attrs, "user", ev.User)
	}
	if ev.IP != "" {
		attrs = append(attrs, "ip_address", ev.IP)
	}
	if len(ev.Details) > 0 {
		attrs = append(attrs, "details", ev.Details)
	}
	s.logger.Log(ctx, logLevel(ev.Severity), "security event", attrs...)
	return nil
}

func logLevel(sev Severity) slog.Level {
	switch sev {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Publisher is the subset of the MQTT client used by MQTTSink.
type Publisher interface {
	PublishEvent(topic string, payload []byte) error
}

// MQTTSink publishes each event as JSON to gatekeeper/security/<event_type>.
type MQTTSink struct {
	pub Publisher
}

// NewMQTTSink creates an MQTTSink.
func NewMQTTSink(pub Publisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Write implements Sink.
func (s *MQTTSink) Write(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	return s.pub.PublishEvent(mqtt.Topics{}.SecurityEvent(string(ev.Kind)), payload)
}

// PointWriter is the subset of the InfluxDB client used by MetricsSink.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// MetricsMeasurement is the InfluxDB measurement written by MetricsSink.
const MetricsMeasurement = "security_events"

// MetricsSink counts events in InfluxDB, tagged by kind, severity, outcome
// and anomaly so rates can be graphed without touching the SQLite history.
type MetricsSink struct {
	w PointWriter
}

// NewMetricsSink creates a MetricsSink.
func NewMetricsSink(w PointWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// Name implements Sink.
func (s *MetricsSink) Name() string { return "influxdb" }

// Write implements Sink. The write itself is batched by the client.
func (s *MetricsSink) Write(_ context.Context, ev Event) error {
	tags := map[string]string{
		"event_type": string(ev.Kind),
		"severity":   string(ev.Severity),
	}
	if outcome := ev.Outcome(); outcome != "" {
		tags["outcome"] = outcome
	}
	if a, ok := ev.Details["anomaly"].(string); ok {
		tags["anomaly"] = a
	}
	s.w.WritePointWithTime(MetricsMeasurement, tags, map[string]any{"count": 1}, ev.Timestamp)
	return nil
}

// Broadcaster fans events out to live subscribers (the websocket hub).
type Broadcaster interface {
	Broadcast(ev Event)
}

// BroadcastSink forwards events to a Broadcaster.
type BroadcastSink struct {
	b Broadcaster
}

// NewBroadcastSink creates a BroadcastSink.
func NewBroadcastSink(b Broadcaster) *BroadcastSink {
	return &BroadcastSink{b: b}
}

// Name implements Sink.
func (s *BroadcastSink) Name() string { return "broadcast" }

// Write implements Sink.
func (s *BroadcastSink) Write(_ context.Context, ev Event) error {
	s.b.Broadcast(ev)
	return nil
}

var (
	_ Sink    = (*SQLiteRepository)(nil)
	_ Sink    = (*LogSink)(nil)
	_ Sink    = (*MQTTSink)(nil)
	_ Sink    = (*MetricsSink)(nil)
	_ Sink    = (*BroadcastSink)(nil)
	_ Emitter = (*Log)(nil)
	_ Emitter = Nop{}
)
