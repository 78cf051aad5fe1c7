package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/task"
)

var (
	// ErrUnknownCode marks a confirmation attempt with a code that is
	// not outstanding.
	ErrUnknownCode = errors.New("unknown confirmation code")
	// ErrExistingCode marks an attempt to register a code twice.
	ErrExistingCode = errors.New("confirmation code already exists")
)

type confirmationEntry struct {
	task    *task.Task
	expires time.Time
}

// ConfirmationMap holds submitted requests awaiting email confirmation,
// keyed by the code mailed to the submitter. Entries expire after the
// configured timeout.
type ConfirmationMap struct {
	mu      sync.Mutex
	entries map[string]confirmationEntry
	timeout time.Duration
}

func NewConfirmationMap(timeout time.Duration) *ConfirmationMap {
	return &ConfirmationMap{
		entries: make(map[string]confirmationEntry),
		timeout: timeout,
	}
}

// Put stores a request under a freshly generated code and returns the
// code.
func (m *ConfirmationMap) Put(t *task.Task) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	code := common.NewConfirmationCode()
	for _, exists := m.entries[code]; exists; _, exists = m.entries[code] {
		code = common.NewConfirmationCode()
	}
	m.entries[code] = confirmationEntry{task: t, expires: time.Now().Add(m.timeout)}
	return code
}

// PutWithCode stores a request under an explicit code, as when restoring
// the map from a snapshot. The expiry window restarts from now.
func (m *ConfirmationMap) PutWithCode(t *task.Task, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[code]; exists {
		return fmt.Errorf("%w: %s", ErrExistingCode, code)
	}
	m.entries[code] = confirmationEntry{task: t, expires: time.Now().Add(m.timeout)}
	return nil
}

// Take removes and returns the request for a code.
func (m *ConfirmationMap) Take(code string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCode, code)
	}
	delete(m.entries, code)
	return entry.task, nil
}

// ExpireStale drops entries past their expiry time and returns how many
// were dropped.
func (m *ConfirmationMap) ExpireStale() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	expired := 0
	for code, entry := range m.entries {
		if !now.Before(entry.expires) {
			delete(m.entries, code)
			expired++
		}
	}
	return expired
}

// Entries returns a snapshot of outstanding (code, task) pairs.
func (m *ConfirmationMap) Entries() map[string]*task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*task.Task, len(m.entries))
	for code, entry := range m.entries {
		out[code] = entry.task
	}
	return out
}

// Len reports the number of outstanding entries.
func (m *ConfirmationMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
