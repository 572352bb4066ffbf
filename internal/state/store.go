package state

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by Store.Get when no state exists for the key.
	ErrNotFound = errors.New("state: not found")
	// ErrPersistence wraps any failure to read or write state.
	ErrPersistence = errors.New("state: persistence failure")
)

// Store persists conversation state keyed by (bot username, chat id).
type Store interface {
	Get(ctx context.Context, botUsername string, chatID int64) (*ConversationState, error)
	Put(ctx context.Context, st *ConversationState) error
}

// persistErr wraps err so that errors.Is(err, ErrPersistence) holds while the
// original cause stays reachable through errors.Cause.
func persistErr(err error, op string) error {
	return &persistenceError{op: op, cause: err}
}

type persistenceError struct {
	op    string
	cause error
}

func (e *persistenceError) Error() string { return "state: " + e.op + ": " + e.cause.Error() }
func (e *persistenceError) Cause() error  { return e.cause }
func (e *persistenceError) Unwrap() error { return e.cause }
func (e *persistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// encode and decode are shared by the byte-oriented backends.
func encode(st *ConversationState) ([]byte, error) {
	return json.Marshal(st)
}

func decode(data []byte) (*ConversationState, error) {
	var st ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, "decode state")
	}
	return &st, nil
}

// MemoryStore keeps state in process memory. Used for tests and single-node
// deployments that accept losing conversation positions on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, botUsername string, chatID int64) (*ConversationState, error) {
	m.mu.RLock()
	data, ok := m.states[Key(botUsername, chatID)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

func (m *MemoryStore) Put(ctx context.Context, st *ConversationState) error {
	data, err := encode(st)
	if err != nil {
		return persistErr(err, "encode")
	}
	m.mu.Lock()
	m.states[st.Key()] = data
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored states.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
