package auth

import "time"

type settings struct {
	now    func() time.Time
	policy LockoutPolicy
}

// Option configures the authenticator, guard, session manager and directory.
type Option func(*settings)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *settings) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLockoutPolicy overrides the failed login policy.
func WithLockoutPolicy(p LockoutPolicy) Option {
	return func(s *settings) {
		s.policy = p.normalized()
	}
}

func newSettings(opts []Option) settings {
	s := settings{now: time.Now, policy: DefaultLockoutPolicy()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
