// Package session holds authenticated sessions in memory.
//
// A Session stores a copy of the user as it was when the session was last
// synchronised. Stores hand out copies, so callers can mutate what they get
// without affecting other readers; changes only land through Put or Replace.
package session
