// Package audit records security decisions.
//
// Callers build events with the per-kind constructors, which fix the
// severity, and hand them to Log.Emit. Emit never blocks and never fails:
// events are queued and written to every configured Sink by one drain
// goroutine, and sink errors are logged and dropped.
package audit

import (
	"time"
)

// Kind is the category of a security event.
type Kind string

const (
	KindLoginAttempt       Kind = "LOGIN_ATTEMPT"
	KindPermissionChange   Kind = "PERMISSION_CHANGE"
	KindUnauthorizedAccess Kind = "UNAUTHORIZED_ACCESS"
	KindAnomaly            Kind = "ANOMALY"
)

// Kinds lists every event kind.
var Kinds = []Kind{KindLoginAttempt, KindPermissionChange, KindUnauthorizedAccess, KindAnomaly}

// Severity grades an event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Anomaly is the detection kind carried by an ANOMALY event.
type Anomaly string

const (
	AnomalyBruteForceBlock     Anomaly = "BRUTE_FORCE_BLOCK"
	AnomalyBruteForceThreshold Anomaly = "BRUTE_FORCE_THRESHOLD"
	AnomalyInjectionAttempt    Anomaly = "INJECTION_ATTEMPT"
	AnomalyPayloadTooDeep      Anomaly = "PAYLOAD_TOO_DEEP"
)

// anomalySeverity overrides the WARN default for anomalies that indicate an
// active attack rather than a suspicious pattern.
var anomalySeverity = map[Anomaly]Severity{
	AnomalyInjectionAttempt: SeverityCritical,
	AnomalyPayloadTooDeep:   SeverityCritical,
}

// SeverityForAnomaly returns the severity of an anomaly kind.
// Unlisted kinds are WARN.
func SeverityForAnomaly(a Anomaly) Severity {
	if s, ok := anomalySeverity[a]; ok {
		return s
	}
	return SeverityWarn
}

// Event is one audit record. It serialises to the wire/JSON shape shared by
// every sink.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"event_type"`
	User      string         `json:"user,omitempty"`
	IP        string         `json:"ip_address,omitempty"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
}

// Outcome returns "success" or "failure" for login attempts and "" otherwise.
func (e Event) Outcome() string {
	if e.Kind != KindLoginAttempt {
		return ""
	}
	if ok, _ := e.Details["success"].(bool); ok {
		return "success"
	}
	return "failure"
}

func newEvent(kind Kind, severity Severity, user, ip string, details map[string]any) Event {
	if details == nil {
		details = map[string]any{}
	}
	return Event{
		Kind:     kind,
		User:     user,
		IP:       ip,
		Severity: severity,
		Details:  details,
	}
}

// LoginAttempt records a login outcome. reason is empty on success.
func LoginAttempt(user, ip string, success bool, reason string, extra map[string]any) Event {
	details := merge(extra, map[string]any{"success": success})
	severity := SeverityInfo
	if !success {
		severity = SeverityWarn
		details["reason"] = reason
	}
	return newEvent(KindLoginAttempt, severity, user, ip, details)
}

// PermissionChange records a role grant or change made by actor.
func PermissionChange(actor, ip, targetID string, from, to string) Event {
	return newEvent(KindPermissionChange, SeverityInfo, actor, ip, map[string]any{
		"target_user": targetID,
		"old_role":    from,
		"new_role":    to,
	})
}

// UnauthorizedAccess records a denied request.
func UnauthorizedAccess(user, ip, resource, reason string, extra map[string]any) Event {
	return newEvent(KindUnauthorizedAccess, SeverityWarn, user, ip, merge(extra, map[string]any{
		"resource": resource,
		"reason":   reason,
	}))
}

// NewAnomaly records a detection.
func NewAnomaly(kind Anomaly, user, ip string, extra map[string]any) Event {
	return newEvent(KindAnomaly, SeverityForAnomaly(kind), user, ip, merge(extra, map[string]any{
		"anomaly": string(kind),
	}))
}

// merge copies extra and then fixed into a new map; fixed keys win.
func merge(extra, fixed map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+len(fixed))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range fixed {
		out[k] = v
	}
	return out
}
