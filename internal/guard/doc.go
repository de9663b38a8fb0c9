// Package guard screens request payloads for injection signatures.
//
// A payload is parsed into an ordered tree (objects keep their document
// field order) and walked depth first. Every string is tested against the
// SQL signatures, then the XSS signatures, then a short list of suspicious
// quote sequences that are reported as SQL. The first hit wins.
//
// The guard only detects. It never rewrites input; callers reject the
// request and record an anomaly.
//
// Nesting deeper than the configured limit (default 32) is itself reported
// as a match with vector DEPTH, so a pathological body cannot hide a payload
// below the cutoff or exhaust the stack.
package guard
