package domain

import (
	"fmt"
	"time"
)

// DefaultMaxAttempts bounds how many times a failed item re-enters the
// queue before the failure becomes terminal.
const DefaultMaxAttempts = 3

// transitions is the closed set of legal status moves. An item that is
// attempted at all always passes through processing, which keeps the
// attempt counter honest.
var transitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:    {StatusProcessing, StatusSkipped},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusTimeout},
	StatusFailed:     {StatusPending},
	StatusCompleted:  {},
	StatusSkipped:    {},
	StatusTimeout:    {},
}

// CanTransition reports whether the move from one status to another is legal.
func CanTransition(from, to ProcessingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BeginProcessing moves the item into processing and counts the attempt.
func (c *Content) BeginProcessing() error {
	if !CanTransition(c.Status, StatusProcessing) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, StatusProcessing)
	}
	c.Status = StatusProcessing
	c.Attempts++
	return nil
}

// Complete marks processing as finished.
func (c *Content) Complete(at time.Time) error {
	if !CanTransition(c.Status, StatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, StatusCompleted)
	}
	c.Status = StatusCompleted
	c.ProcessedAt = &at
	c.LastError = ""
	return nil
}

// Fail records the error and re-queues the item while attempts remain;
// once maxAttempts is reached the failure is terminal.
func (c *Content) Fail(cause string, maxAttempts int) error {
	if !CanTransition(c.Status, StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, StatusFailed)
	}
	c.Status = StatusFailed
	c.LastError = cause
	if c.Attempts < maxAttempts {
		c.Status = StatusPending
	}
	return nil
}

// Skip tombstones an item that has nothing actionable. Legal only straight
// from collection, before any processing attempt.
func (c *Content) Skip(reason string) error {
	if !CanTransition(c.Status, StatusSkipped) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, StatusSkipped)
	}
	c.Status = StatusSkipped
	c.LastError = reason
	return nil
}

// MarkTimeout terminates an item whose downstream processing overran its
// deadline.
func (c *Content) MarkTimeout() error {
	if !CanTransition(c.Status, StatusTimeout) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, StatusTimeout)
	}
	c.Status = StatusTimeout
	c.LastError = "processing deadline exceeded"
	return nil
}
