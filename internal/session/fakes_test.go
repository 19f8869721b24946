package session

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/sessionauth/internal/model"
	"github.com/hitoshi/sessionauth/internal/repository"
)

// mockProvider はIdentityProviderのモック。
type mockProvider struct {
	verifyIDTokenFn      func(ctx context.Context, idToken string) (string, error)
	issueSessionTokenFn  func(ctx context.Context, idToken string, ttl time.Duration) (string, error)
	verifySessionTokenFn func(ctx context.Context, token string, checkRevoked bool) (string, error)
	findAccountFn        func(ctx context.Context, email string) (string, error)

	issueCalls  int
	verifyCalls int
	lastTTL     time.Duration
	lastRevoked bool
}

func (m *mockProvider) VerifyIDToken(ctx context.Context, idToken string) (string, error) {
	if m.verifyIDTokenFn != nil {
		return m.verifyIDTokenFn(ctx, idToken)
	}
	return "", nil
}

func (m *mockProvider) IssueSessionToken(ctx context.Context, idToken string, ttl time.Duration) (string, error) {
	m.issueCalls++
	m.lastTTL = ttl
	if m.issueSessionTokenFn != nil {
		return m.issueSessionTokenFn(ctx, idToken, ttl)
	}
	return "session-token", nil
}

func (m *mockProvider) VerifySessionToken(ctx context.Context, token string, checkRevoked bool) (string, error) {
	m.verifyCalls++
	m.lastRevoked = checkRevoked
	if m.verifySessionTokenFn != nil {
		return m.verifySessionTokenFn(ctx, token, checkRevoked)
	}
	return "", nil
}

func (m *mockProvider) FindAccountByEmail(ctx context.Context, email string) (string, error) {
	if m.findAccountFn != nil {
		return m.findAccountFn(ctx, email)
	}
	return "", model.NewAuthError(model.CodeUserNotFound, nil)
}

var _ IdentityProvider = (*mockProvider)(nil)

// memoryProfileStore はメモリ上のProfileStore。
// PostgresProfileRepoと同様に既存IDは上書きしない。
type memoryProfileStore struct {
	mu       sync.Mutex
	docs     map[string]model.Profile
	getErr   error
	putErr   error
	putCalls int
}

func newMemoryProfileStore() *memoryProfileStore {
	return &memoryProfileStore{docs: make(map[string]model.Profile)}
}

func (s *memoryProfileStore) Get(ctx context.Context, id string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memoryProfileStore) Put(ctx context.Context, id string, profile model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.putErr != nil {
		return s.putErr
	}
	if _, exists := s.docs[id]; exists {
		return repository.ErrProfileExists
	}
	for _, p := range s.docs {
		if p.Email == profile.Email {
			return model.NewAuthError(model.CodeEmailAlreadyExists, nil)
		}
	}
	s.docs[id] = profile
	return nil
}

var _ ProfileStore = (*memoryProfileStore)(nil)

// memoryJar はメモリ上のCookieJar。
type memoryJar struct {
	values  map[string]string
	attrs   map[string]CookieAttributes
	setErr  error
	deleted []string
}

func newMemoryJar() *memoryJar {
	return &memoryJar{
		values: make(map[string]string),
		attrs:  make(map[string]CookieAttributes),
	}
}

func (j *memoryJar) Set(name, value string, attrs CookieAttributes) error {
	if j.setErr != nil {
		return j.setErr
	}
	j.values[name] = value
	j.attrs[name] = attrs
	return nil
}

func (j *memoryJar) Get(name string) (string, bool) {
	v, ok := j.values[name]
	return v, ok
}

func (j *memoryJar) Delete(name string, attrs CookieAttributes) {
	delete(j.values, name)
	j.attrs[name] = attrs
	j.deleted = append(j.deleted, name)
}

var _ CookieJar = (*memoryJar)(nil)

// recordingMetrics は記録された操作結果を保持するMetricsCollector。
type recordingMetrics struct {
	ops   []string
	calls []string
}

func (m *recordingMetrics) RecordOperation(op, kind string) {
	m.ops = append(m.ops, op+":"+kind)
}

func (m *recordingMetrics) RecordProviderCall(call string, _ time.Duration, _ error) {
	m.calls = append(m.calls, call)
}

func (m *recordingMetrics) RecordHTTPStatus(int) {}

func (m *recordingMetrics) RecordRateLimited(string) {}
