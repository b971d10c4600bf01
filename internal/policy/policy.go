// Package policy resolves creation parameters into the effective limits of a note.
package policy

import "time"

const (
	// DefaultMaxViews caps notes created without an explicit quota or the
	// view-once flag.
	DefaultMaxViews = 100
	// DefaultMaxTTL is the longest lifetime a note may be created with.
	DefaultMaxTTL = 7 * 24 * time.Hour
)

// Policy holds the tunable limits applied at creation.
type Policy struct {
	// DefaultMaxViews is used when neither a quota nor view-once is requested.
	DefaultMaxViews int
	// MaxTTL bounds the requested lifetime. Zero means no bound.
	MaxTTL time.Duration
}

// Default returns the built-in policy.
func Default() Policy {
	return Policy{DefaultMaxViews: DefaultMaxViews, MaxTTL: DefaultMaxTTL}
}

// ResolveMaxViews applies the policy's precedence:
// an explicit positive quota wins, then view-once means one view,
// otherwise the default ceiling applies.
func (p Policy) ResolveMaxViews(explicit *int, viewOnce bool) int {
	if explicit != nil && *explicit > 0 {
		return *explicit
	}
	if viewOnce {
		return 1
	}
	if p.DefaultMaxViews > 0 {
		return p.DefaultMaxViews
	}
	return DefaultMaxViews
}

// ResolveMaxViews resolves the quota using the built-in policy.
func ResolveMaxViews(explicit *int, viewOnce bool) int {
	return Default().ResolveMaxViews(explicit, viewOnce)
}
