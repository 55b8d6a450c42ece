package media

import (
	"errors"
	"sync/atomic"
)

// ErrCandidateConsumed is returned when a candidate is evaluated twice.
var ErrCandidateConsumed = errors.New("media candidate already consumed")

// Candidate is one submitted photo or video awaiting a decision.
type Candidate struct {
	Bytes        []byte
	DeclaredMIME string
	DeclaredSize int64
	Thumbnail    []byte
	Filename     string
	Kind         Kind
	EventID      string
	CallerID     string
	Caption      string

	consumed atomic.Bool
}

// Consume marks the candidate as handed to the orchestrator. It fails on
// every call after the first.
func (c *Candidate) Consume() error {
	if !c.consumed.CompareAndSwap(false, true) {
		return ErrCandidateConsumed
	}
	return nil
}

// Size is the number of bytes actually received.
func (c *Candidate) Size() int64 {
	return int64(len(c.Bytes))
}

// Prefix returns at most n leading bytes without copying.
func (c *Candidate) Prefix(n int) []byte {
	if n > len(c.Bytes) {
		n = len(c.Bytes)
	}
	return c.Bytes[:n]
}
