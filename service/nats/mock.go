package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu             sync.RWMutex
	walletEvents   []*WalletEvent
	transferEvents []*TransferEvent
	publishError   error
	closed         bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishWalletEvent records the event and returns any configured error.
func (m *MockPublisher) PublishWalletEvent(ctx context.Context, event *WalletEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.walletEvents = append(m.walletEvents, event)
	return nil
}

// PublishTransfer records the event and returns any configured error.
func (m *MockPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.transferEvents = append(m.transferEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetWalletEvents returns all published wallet events (for testing).
func (m *MockPublisher) GetWalletEvents() []*WalletEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*WalletEvent, len(m.walletEvents))
	copy(events, m.walletEvents)
	return events
}

// GetTransferEvents returns all published transfer events (for testing).
func (m *MockPublisher) GetTransferEvents() []*TransferEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransferEvent, len(m.transferEvents))
	copy(events, m.transferEvents)
	return events
}

// SetPublishError configures the mock to return an error on every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletEvents = nil
	m.transferEvents = nil
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
