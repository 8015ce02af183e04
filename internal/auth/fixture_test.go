package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memStore struct {
	mu         sync.Mutex
	principals map[string]*Principal
	tenants    map[string]*Tenant
}

func newMemStore() *memStore {
	return &memStore{principals: map[string]*Principal{}, tenants: map[string]*Tenant{}}
}

func (s *memStore) Principals(context.Context) PrincipalStore { return (*memPrincipals)(s) }
func (s *memStore) Tenants(context.Context) TenantStore       { return (*memTenants)(s) }

type memPrincipals memStore

func (s *memPrincipals) Create(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.principals {
		if existing.Username == p.Username || existing.Email == p.Email {
			return ErrConflict
		}
	}
	cp := *p
	s.principals[p.ID] = &cp
	return nil
}

func (s *memPrincipals) Find(_ context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memPrincipals) FindByLogin(_ context.Context, login string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	login = strings.ToLower(login)
	for _, p := range s.principals {
		if p.Username == login || p.Email == login {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memPrincipals) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.principals {
		if p.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *memPrincipals) ListByTenant(_ context.Context, tenantID string) ([]*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Principal
	for _, p := range s.principals {
		if tenantID == "" || deref(p.TenantID) == tenantID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memPrincipals) Update(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.principals[p.ID] = &cp
	return nil
}

func (s *memPrincipals) RegisterFailure(_ context.Context, id string, now time.Time, policy LockoutPolicy) (LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return LockoutState{}, ErrNotFound
	}
	if p.Locked(now) {
		return p.Lockout(), ErrAccountLocked
	}
	next := policy.Fail(p.Lockout(), now)
	p.FailedAttempts = next.FailedAttempts
	p.LockedUntil = next.LockedUntil
	return next, nil
}

func (s *memPrincipals) RegisterSuccess(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	if p.Locked(now) {
		return ErrAccountLocked
	}
	p.FailedAttempts = 0
	p.LockedUntil = nil
	p.LastLoginAt = timePtr(now)
	return nil
}

func (s *memPrincipals) Unlock(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.FailedAttempts = 0
	p.LockedUntil = nil
	p.UpdatedAt = now
	return nil
}

type memTenants memStore

func (s *memTenants) Create(_ context.Context, t *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; ok {
		return ErrConflict
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *memTenants) Find(_ context.Context, id string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memTenants) List(context.Context) ([]*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Tenant
	for _, t := range s.tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memTenants) Update(_ context.Context, t *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAudit) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAudit) List(_ context.Context, f audit.Filter) (audit.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return audit.Page{Entries: append([]audit.Entry(nil), m.entries...), Total: len(m.entries), Limit: f.Limit}, nil
}

func (m *memAudit) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

func (m *memAudit) last(t *testing.T) audit.Entry {
	t.Helper()
	all := m.all()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

type fixture struct {
	clock    *testClock
	store    *memStore
	trail    *memAudit
	hasher   *Hasher
	codec    *TokenCodec
	authn    *Authenticator
	sessions *SessionManager
	resolver *TenantResolver
	guard    *Guard
	dir      *Directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		store:  newMemStore(),
		trail:  &memAudit{},
		hasher: NewHasher(4),
	}
	recorder := audit.NewRecorder(f.trail, audit.WithClock(f.clock.Now))
	codec, err := NewTokenCodec(testSecret, WithCodecClock(f.clock.Now))
	require.NoError(t, err)
	f.codec = codec
	f.authn, err = NewAuthenticator(f.store.Principals(context.Background()), f.hasher, codec, recorder, WithClock(f.clock.Now))
	require.NoError(t, err)
	f.sessions, err = NewSessionManager(f.authn, recorder, WithClock(f.clock.Now))
	require.NoError(t, err)
	f.resolver = NewTenantResolver(f.store.Tenants(context.Background()), WithClock(f.clock.Now))
	f.guard = NewGuard(codec, f.resolver, recorder)
	f.dir, err = NewDirectory(f.store, f.hasher, recorder, WithClock(f.clock.Now))
	require.NoError(t, err)
	return f
}

func (f *fixture) addTenant(t *testing.T, id string, status TenantStatus) *Tenant {
	t.Helper()
	tenant := &Tenant{ID: id, Name: id, Type: TenantHospital, Status: status, Active: true, CreatedAt: f.clock.Now()}
	require.NoError(t, f.store.Tenants(context.Background()).Create(context.Background(), tenant))
	return tenant
}

func (f *fixture) addPrincipal(t *testing.T, username string, role Role, tenantID string, password string) *Principal {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	p := &Principal{
		ID:           "p-" + username,
		Username:     username,
		Email:        username + "@example.org",
		PasswordHash: hash,
		Role:         role,
		TenantID:     strPtr(tenantID),
		Active:       true,
		CreatedAt:    f.clock.Now(),
	}
	require.NoError(t, f.store.Principals(context.Background()).Create(context.Background(), p))
	return p
}

func (f *fixture) session(t *testing.T, p *Principal) Session {
	t.Helper()
	raw, _, err := f.codec.Encode(*p, TokenAccess, f.clock.Now())
	require.NoError(t, err)
	s, err := f.codec.Decode(raw, TokenAccess)
	require.NoError(t, err)
	return s
}

func (f *fixture) accessToken(t *testing.T, p *Principal) string {
	t.Helper()
	raw, _, err := f.codec.Encode(*p, TokenAccess, f.clock.Now())
	require.NoError(t, err)
	return raw
}
