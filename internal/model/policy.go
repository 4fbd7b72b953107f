package model

import (
	"fmt"
	"time"
)

// QueuePolicy is what happens to a job when the concurrency limit is hit.
type QueuePolicy string

const (
	// QueuePolicyReject fails the job immediately with a backpressure error.
	QueuePolicyReject QueuePolicy = "reject"
	// QueuePolicyWait queues the job for a bounded time before failing.
	QueuePolicyWait QueuePolicy = "wait"
)

// Policy is the runtime policy for the gateway: which archiver options
// callers may forward and how much work may run at once. It is immutable
// after startup.
type Policy struct {
	// ArchiverBinary is the external archiver program name or path.
	ArchiverBinary string
	// AllowedOptions is the whitelist of forwardable option names.
	AllowedOptions []string
	// Timeout is the per-job time budget for the archiver process.
	Timeout time.Duration
	// MaxConcurrent is how many archiver processes may run at once.
	MaxConcurrent int
	// Queue selects the backpressure behavior at the limit.
	Queue QueuePolicy
	// QueueWait bounds how long a job may wait when Queue is "wait".
	QueueWait time.Duration
	// MaxOutputBytes bounds captured stdout/stderr per stream.
	MaxOutputBytes int
}

// DefaultPolicy returns the compiled-in policy.
func DefaultPolicy() Policy {
	return Policy{
		ArchiverBinary: "7z",
		AllowedOptions: []string{"format", "password", "recursive", "level", "overwrite"},
		Timeout:        5 * time.Minute,
		MaxConcurrent:  4,
		Queue:          QueuePolicyReject,
		QueueWait:      10 * time.Second,
		MaxOutputBytes: 64 * 1024,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.ArchiverBinary == "" {
		return fmt.Errorf("archiver binary is required")
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if p.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive")
	}
	switch p.Queue {
	case QueuePolicyReject, QueuePolicyWait:
	default:
		return fmt.Errorf("unknown queue policy %q", p.Queue)
	}
	if p.Queue == QueuePolicyWait && p.QueueWait <= 0 {
		return fmt.Errorf("queue wait must be positive with the wait policy")
	}
	if p.MaxOutputBytes <= 0 {
		return fmt.Errorf("max output bytes must be positive")
	}
	return nil
}

// OptionAllowed reports whether an option name is on the whitelist.
func (p Policy) OptionAllowed(name string) bool {
	for _, o := range p.AllowedOptions {
		if o == name {
			return true
		}
	}
	return false
}
