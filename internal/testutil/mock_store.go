package testutil

import (
	"context"
	"sync"

	"github.com/jasoncpatton/iembot/internal/store"
)

// MockStore is a thread-safe in-memory implementation of store.PhoneBook for testing.
type MockStore struct {
	mu sync.Mutex

	Groups  map[string][]string // group -> usernames
	Numbers map[string]string   // username -> number

	LookupErr error
	SetErr    error

	LookupCalls int
	SetCalls    int

	// Block, when non-nil, makes LookupPhoneNumbers wait until it is closed
	// or the context ends.
	Block chan struct{}
}

func NewMockStore() *MockStore {
	return &MockStore{
		Groups:  make(map[string][]string),
		Numbers: make(map[string]string),
	}
}

func (m *MockStore) LookupPhoneNumbers(ctx context.Context, group string) ([]store.Subscriber, error) {
	m.mu.Lock()
	m.LookupCalls++
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	var out []store.Subscriber
	for _, user := range m.Groups[group] {
		if num, ok := m.Numbers[user]; ok {
			out = append(out, store.Subscriber{Number: num, Username: user})
		}
	}
	return out, nil
}

func (m *MockStore) SetPhoneNumber(_ context.Context, username, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls++
	if m.SetErr != nil {
		return m.SetErr
	}
	m.Numbers[username] = number
	return nil
}

func (m *MockStore) Close() {}

// AddSubscriber seeds a group member with a phone number.
func (m *MockStore) AddSubscriber(group, username, number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Groups[group] = append(m.Groups[group], username)
	m.Numbers[username] = number
}

// Number returns the stored number for username.
func (m *MockStore) Number(username string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.Numbers[username]
	return n, ok
}

// GetLookupCalls returns how many times LookupPhoneNumbers was called.
func (m *MockStore) GetLookupCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LookupCalls
}
