package llm

import (
	"context"
	"sync"
	"time"
)

// MockClient is a scripted LLMClient for tests.
//
// Responses are returned in order; once the script is exhausted the last
// response repeats. A zero-value MockClient returns empty strings.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Delay     time.Duration

	calls   int
	prompts []string
}

func (m *MockClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	idx := m.calls
	m.calls++
	delay := m.Delay
	err := m.Err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return "", nil
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// Calls returns how many times Generate was invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the prompts seen so far, in call order.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
