package telegraph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records sent and edited
// messages and allows simulating inbound events via SimulateInbound.
type MockAdapter struct {
	mu         sync.Mutex
	identity   Identity
	connectErr error
	sendErr    error
	connected  bool
	closed     bool
	inbound    chan Event
	sent       []OutboundMessage
	edits      []Edit
	files      map[string]string
	nextID     int64
	connects   int
}

// Edit is a recorded Adapter.Edit call.
type Edit struct {
	ChatID    int64
	MessageID int64
	Text      string
	Mode      RenderMode
}

// NewMockAdapter creates a MockAdapter for a bot with the given username.
func NewMockAdapter(username string) *MockAdapter {
	return &MockAdapter{
		identity: Identity{ID: 1000, Name: username, Username: username},
		inbound:  make(chan Event, 100),
		files:    make(map[string]string),
		nextID:   1,
	}
}

// Connect marks the adapter as connected, or fails with the error set by
// FailConnect.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *MockAdapter) Identity() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Listen returns the inbound channel. It is closed when ctx ends or on Close.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	go func() {
		<-ctx.Done()
		m.Close()
	}()
	return m.inbound, nil
}

// Send records msg and returns a sequential message id.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, fmt.Errorf("mock adapter: not connected")
	}
	if m.sendErr != nil {
		return 0, Transient(m.sendErr)
	}
	m.sent = append(m.sent, msg)
	id := m.nextID
	m.nextID++
	return id, nil
}

// Edit records the edit.
func (m *MockAdapter) Edit(ctx context.Context, chatID, messageID int64, text string, mode RenderMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.edits = append(m.edits, Edit{ChatID: chatID, MessageID: messageID, Text: text, Mode: mode})
	return nil
}

// FileURL returns the URL registered with SetFileURL.
func (m *MockAdapter) FileURL(ctx context.Context, fileID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.files[fileID]
	if !ok {
		return "", fmt.Errorf("mock adapter: unknown file %q", fileID)
	}
	return u, nil
}

// Close closes the inbound channel. Safe to call more than once.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// FailConnect makes Connect return err.
func (m *MockAdapter) FailConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// FailSend makes Send return err (wrapped as transient); nil restores it.
func (m *MockAdapter) FailSend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetFileURL registers the download URL of a file id.
func (m *MockAdapter) SetFileURL(fileID, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fileID] = url
}

// SimulateInbound delivers ev as if it came from the platform. It returns
// false if the adapter is already closed.
func (m *MockAdapter) SimulateInbound(ev Event) (delivered bool) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.inbound <- ev
	return true
}

// Closed reports whether Close has been called.
func (m *MockAdapter) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Connects returns how many times Connect was called.
func (m *MockAdapter) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// LastSent returns the most recently sent message.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of sent messages.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// AllEdits returns a copy of all edits.
func (m *MockAdapter) AllEdits() []Edit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Edit, len(m.edits))
	copy(out, m.edits)
	return out
}
