package telnyx

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"fax/internal/domain"
)

// Mock stands in for the live API when MOCK_PROVIDERS is on. Every send is
// reported delivered straight away.
type Mock struct {
	mu      sync.Mutex
	sends   int
	cancels int
}

func (m *Mock) SendFax(_ context.Context, _, _ string) (domain.SendResult, error) {
	m.mu.Lock()
	m.sends++
	m.mu.Unlock()
	return domain.SendResult{
		ProviderJobID:  "mock_fax_" + ulid.Make().String(),
		ProviderStatus: "delivered",
	}, nil
}

func (m *Mock) CancelFax(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	m.cancels++
	m.mu.Unlock()
	return "canceled", nil
}

// Calls returns how many sends and cancels the mock has served.
func (m *Mock) Calls() (sends, cancels int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends, m.cancels
}
