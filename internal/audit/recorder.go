package audit

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/abhayyyy25/breast-cancer-detection/internal/ids"
	"github.com/abhayyyy25/breast-cancer-detection/internal/obs"
)

// Recorder appends entries and never fails the caller.
type Recorder struct {
	store Store
	now   func() time.Time

	mu   sync.Mutex
	last time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stamps and persists e. Persistence failures are logged and counted,
// never returned. The write is not tied to the caller's cancellation.
func (r *Recorder) Record(ctx context.Context, e Entry) Entry {
	if r == nil {
		return e
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.CreatedAt = r.stamp()
	e.ID = ids.NewAt(e.CreatedAt)
	fillOrigin(&e, OriginFromContext(ctx))

	if r.store == nil {
		r.fallback(e, nil)
		return e
	}
	if err := r.store.Append(context.WithoutCancel(ctx), &e); err != nil {
		r.fallback(e, err)
	}
	return e
}

// List queries stored entries.
func (r *Recorder) List(ctx context.Context, filter Filter) (Page, error) {
	return r.store.List(ctx, filter.Normalize())
}

// stamp returns a UTC timestamp strictly after the previous one.
func (r *Recorder) stamp() time.Time {
	t := r.now().UTC().Truncate(time.Microsecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !t.After(r.last) {
		t = r.last.Add(time.Microsecond)
	}
	r.last = t
	return t
}

func (r *Recorder) fallback(e Entry, err error) {
	obs.ObserveAuditFailure()
	ev := obs.Logger().Error().Str("kind", KindWriteFailed).Interface("entry", e)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("audit write failed")
}

func fillOrigin(e *Entry, o Origin) {
	if e.IP == "" {
		e.IP = o.IP
	}
	if e.UserAgent == "" {
		e.UserAgent = o.UserAgent
	}
	if e.Method == "" {
		e.Method = o.Method
	}
	if e.Path == "" {
		e.Path = o.Path
	}
	if e.RequestID == "" {
		e.RequestID = o.RequestID
	}
	e.UserAgent = truncate(e.UserAgent, maxUserAgent)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
