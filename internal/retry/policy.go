// Package retry holds the dispatcher's attempt-budget policy, reduced
// to the two fields the workflow JSON's "retry" block actually
// carries.
package retry

import "time"

// Policy is a node's retry budget: up to Times additional attempts
// after the first, waiting Interval between each.
type Policy struct {
	Times    uint64
	Interval time.Duration
}

// None is the zero-retry policy used when a node has no "retry" block.
var None = Policy{}

// FromConfig builds a Policy from the optional workflow-JSON retry
// config. A nil config yields None.
func FromConfig(times *uint64, intervalMS *uint64) Policy {
	if times == nil {
		return None
	}
	var iv time.Duration
	if intervalMS != nil {
		iv = time.Duration(*intervalMS) * time.Millisecond
	}
	return Policy{Times: *times, Interval: iv}
}

// HasRemaining reports whether retriesUsed (not counting the first
// attempt) has not yet exhausted the policy.
func (p Policy) HasRemaining(retriesUsed uint64) bool {
	return retriesUsed < p.Times
}
