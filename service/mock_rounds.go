package service

import (
	"context"
	"sync"
	"time"

	"github.com/vocdoni/vocdoni-qf/config"
)

// MockRoundSource implements a mock RoundSource for testing.
type MockRoundSource struct {
	mu     sync.Mutex
	rounds []*config.Round
}

func NewMockRoundSource() *MockRoundSource {
	return &MockRoundSource{}
}

func (m *MockRoundSource) MonitorRoundCreation(ctx context.Context, interval time.Duration) (<-chan *config.Round, error) {
	ch := make(chan *config.Round)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				rounds := m.rounds
				m.rounds = nil // Clear after sending
				m.mu.Unlock()
				for _, r := range rounds {
					select {
					case ch <- r:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

// CreateRound queues a round to be sent on the next tick.
func (m *MockRoundSource) CreateRound(r *config.Round) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, r)
}
