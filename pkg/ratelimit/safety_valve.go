package ratelimit

import (
	"golang.org/x/time/rate"
)

// SafetyValve is the process-wide ambient throughput guard described in
// SPEC_FULL.md §4.5: a single token-bucket limiter shared across every
// credential, protecting the process from a burst spread across many
// distinct credentials that no single fixed-window bucket would catch. It
// never produces a rate_limited denial itself. The Tool Wrapper does not
// consult it; a caller that wants the guard calls Allow directly. Disabled
// by default (nil SafetyValve means "always allow").
type SafetyValve struct {
	limiter *rate.Limiter
}

// NewSafetyValve builds a valve allowing ratePerSecond sustained calls with
// bursts up to burst.
func NewSafetyValve(ratePerSecond float64, burst int) *SafetyValve {
	return &SafetyValve{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Allow reports whether a call may proceed right now. A nil receiver always
// allows, matching the "disabled by default" requirement.
func (v *SafetyValve) Allow() bool {
	if v == nil {
		return true
	}
	return v.limiter.Allow()
}
