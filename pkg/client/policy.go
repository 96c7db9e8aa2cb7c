package client

import "time"

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

// ReconnectPolicy is a bounded exponential backoff. Attempt k waits
// base * 2^(k-1); after maxAttempts failures Next reports exhaustion until Reset.
// Not safe for concurrent use; LiveConnection guards it with its own lock.
type ReconnectPolicy struct {
	base        time.Duration
	maxAttempts int
	attempts    int
	exhausted   bool
}

// NewReconnectPolicy creates a policy. Non-positive arguments select the defaults.
func NewReconnectPolicy(base time.Duration, maxAttempts int) *ReconnectPolicy {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &ReconnectPolicy{base: base, maxAttempts: maxAttempts}
}

// Next returns the delay before the next attempt, or false once the attempt
// budget is spent.
func (p *ReconnectPolicy) Next() (time.Duration, bool) {
	if p.attempts >= p.maxAttempts {
		p.exhausted = true
		return 0, false
	}
	p.attempts++
	return p.base << (p.attempts - 1), true
}

// Reset clears the attempt counter after a successful open.
func (p *ReconnectPolicy) Reset() {
	p.attempts = 0
	p.exhausted = false
}

// Attempts returns the number of retries scheduled since the last Reset.
func (p *ReconnectPolicy) Attempts() int {
	return p.attempts
}

// Exhausted reports whether Next has refused a retry since the last Reset.
func (p *ReconnectPolicy) Exhausted() bool {
	return p.exhausted
}

// MaxAttempts returns the retry budget.
func (p *ReconnectPolicy) MaxAttempts() int {
	return p.maxAttempts
}
