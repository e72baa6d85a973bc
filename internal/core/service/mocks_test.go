package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rl1809/pricewatch/internal/core/domain"
	"github.com/rl1809/pricewatch/internal/port"
)

// Mock ItemRepository
type mockItemRepo struct {
	items      []domain.TrackedItem
	loadErr    error
	failUpsert map[string]error
	saved      map[string]domain.TrackedItem
	// reload makes LoadAll return what was saved, like a real store
	reload     bool
	beforeSave func(ctx context.Context, identity string)
	mu         sync.Mutex
}

func newMockItemRepo(items ...domain.TrackedItem) *mockItemRepo {
	return &mockItemRepo{
		items:      items,
		failUpsert: make(map[string]error),
		saved:      make(map[string]domain.TrackedItem),
	}
}

func (m *mockItemRepo) LoadAll(ctx context.Context) ([]domain.TrackedItem, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if !m.reload {
		return m.items, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TrackedItem, len(m.items))
	for i, it := range m.items {
		if s, ok := m.saved[it.Identity]; ok {
			it = s
		}
		out[i] = it
	}
	return out, nil
}

func (m *mockItemRepo) Upsert(ctx context.Context, identity string, item domain.TrackedItem) error {
	if m.beforeSave != nil {
		m.beforeSave(ctx, identity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failUpsert[identity]; err != nil {
		return err
	}
	m.saved[identity] = item
	return nil
}

func (m *mockItemRepo) get(identity string) (domain.TrackedItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.saved[identity]
	return it, ok
}

// Mock ObservationFetcher
type mockFetcher struct {
	snapshots map[string]domain.ObservedSnapshot
	errs      map[string]error
	block     map[string]chan struct{}
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		snapshots: make(map[string]domain.ObservedSnapshot),
		errs:      make(map[string]error),
		block:     make(map[string]chan struct{}),
	}
}

func (m *mockFetcher) Fetch(ctx context.Context, identity string) (domain.ObservedSnapshot, error) {
	if ch, ok := m.block[identity]; ok {
		<-ch
	}
	if err := m.errs[identity]; err != nil {
		return domain.ObservedSnapshot{}, err
	}
	snap, ok := m.snapshots[identity]
	if !ok {
		return domain.ObservedSnapshot{}, errors.New("not found")
	}
	return snap, nil
}

// Mock MailTransport
type sentMail struct {
	recipients []string
	msg        port.Message
}

type mockMailer struct {
	sent []sentMail
	err  error
	// block, when set, stalls Send until closed regardless of ctx
	block chan struct{}
	mu    sync.Mutex
}

func (m *mockMailer) Send(ctx context.Context, recipients []string, msg port.Message) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{recipients: append([]string(nil), recipients...), msg: msg})
	return nil
}

func (m *mockMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Mock DispatchLedger
type mockLedger struct {
	keys     map[string]bool
	released []string
	mu       sync.Mutex
}

func newMockLedger() *mockLedger {
	return &mockLedger{keys: make(map[string]bool)}
}

func (m *mockLedger) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *mockLedger) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}

// Mock RunLock
type mockLock struct {
	holder string
	mu     sync.Mutex
}

func (m *mockLock) Lock(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != "" {
		return false, nil
	}
	m.holder = token
	return true, nil
}

func (m *mockLock) Unlock(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == token {
		m.holder = ""
	}
	return nil
}

// Mock RunRecorder
type mockRecorder struct {
	last *domain.RunSummary
	runs []domain.RunSummary
	mu   sync.Mutex
}

func (m *mockRecorder) SaveRun(ctx context.Context, summary domain.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &summary
	m.runs = append([]domain.RunSummary{summary}, m.runs...)
	return nil
}

func (m *mockRecorder) RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.runs) {
		limit = len(m.runs)
	}
	return append([]domain.RunSummary(nil), m.runs[:limit]...), nil
}

func (m *mockRecorder) LastRun(ctx context.Context) (*domain.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}
