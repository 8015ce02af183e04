package auth

import "time"

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 30 * time.Minute
)

// LockoutPolicy bounds consecutive failed logins.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy locks for 30 minutes after 5 consecutive failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: DefaultLockoutThreshold, Duration: DefaultLockoutDuration}
}

func (p LockoutPolicy) normalized() LockoutPolicy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultLockoutThreshold
	}
	if p.Duration <= 0 {
		p.Duration = DefaultLockoutDuration
	}
	return p
}

// LockoutState is the persisted failure counter of a principal.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Locked reports whether the lock is still in force at now.
func (s LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// Fail returns the state after one more failed attempt at now. A lock that has
// already expired is discarded and counting restarts at one. Reaching the
// threshold sets LockedUntil to now plus the policy duration.
func (p LockoutPolicy) Fail(s LockoutState, now time.Time) LockoutState {
	p = p.normalized()
	next := LockoutState{FailedAttempts: s.FailedAttempts + 1, LockedUntil: s.LockedUntil}
	if s.LockedUntil != nil && !now.Before(*s.LockedUntil) {
		next = LockoutState{FailedAttempts: 1}
	}
	if next.FailedAttempts >= p.Threshold && !next.Locked(now) {
		next.LockedUntil = timePtr(now.Add(p.Duration).UTC())
	}
	return next
}
