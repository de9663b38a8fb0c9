package mqtt

import "strings"

// TopicPrefix is the root of every Gatekeeper topic.
const TopicPrefix = "gatekeeper"

// Topics builds topic strings:
//
//	gatekeeper/status                  retained online/offline
//	gatekeeper/security/<event_type>   one message per audit event
type Topics struct{}

// Status is the retained online/offline topic.
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// SecurityEvent is the topic for one audit event kind. The kind is lowercased
// so subscribers can use "gatekeeper/security/login_attempt".
func (Topics) SecurityEvent(kind string) string {
	return TopicPrefix + "/security/" + sanitizeSegment(strings.ToLower(kind))
}

// AllSecurityEvents matches every audit event topic.
func (Topics) AllSecurityEvents() string {
	return TopicPrefix + "/security/#"
}

// sanitizeSegment strips characters that would change the topic structure.
func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
