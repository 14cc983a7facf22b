package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/log"
	"github.com/vocdoni/vocdoni-qf/storage"
)

// RoundMonitor represents a service that monitors new funding rounds and
// stores them.
type RoundMonitor struct {
	source   RoundSource
	storage  *storage.Storage
	interval time.Duration
	mu       sync.Mutex
	cancel   context.CancelFunc
}

// NewRoundMonitor creates a new RoundMonitor service.
func NewRoundMonitor(source RoundSource, stg *storage.Storage, interval time.Duration) *RoundMonitor {
	return &RoundMonitor{
		source:   source,
		storage:  stg,
		interval: interval,
	}
}

// Start begins monitoring for new rounds. It returns an error if the service
// is already running or if it fails to start monitoring.
func (rm *RoundMonitor) Start(ctx context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.cancel != nil {
		return fmt.Errorf("service already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	rm.cancel = cancel

	newRoundChan, err := rm.source.MonitorRoundCreation(ctx, rm.interval)
	if err != nil {
		rm.cancel()
		rm.cancel = nil
		return fmt.Errorf("failed to start round monitoring: %w", err)
	}

	go rm.monitorRounds(ctx, newRoundChan)
	return nil
}

// Stop halts the monitoring service.
func (rm *RoundMonitor) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.cancel != nil {
		rm.cancel()
		rm.cancel = nil
	}
}

func (rm *RoundMonitor) monitorRounds(ctx context.Context, newRoundChan <-chan *config.Round) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-newRoundChan:
			if !ok {
				return
			}
			err := rm.storage.SetRound(r)
			switch {
			case err == nil:
				log.Debugw("new round found", "round", r.ID.String())
			case errors.Is(err, storage.ErrAlreadyExists):
				log.Warnw("round already exists", "round", r.ID.String())
			default:
				log.Warnw("failed to store round", "round", r.ID.String(), "error", err.Error())
			}
		}
	}
}
