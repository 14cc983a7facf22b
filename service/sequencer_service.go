package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/log"
	"github.com/vocdoni/vocdoni-qf/sequencer"
	"github.com/vocdoni/vocdoni-qf/settlement"
	"github.com/vocdoni/vocdoni-qf/storage"
)

// SequencerService finalizes in background the rounds of a coordinator once
// their voting period is over.
type SequencerService struct {
	sequencer *sequencer.Sequencer
}

// NewSequencer creates the service for the coordinator keypair. Every
// tickInterval the pending rounds are finalized, each of them processed with
// up to workers goroutines (the number of CPUs if zero). A nil formula uses
// the default matching formula.
func NewSequencer(
	stg *storage.Storage,
	coordinator *keys.Keypair,
	tickInterval time.Duration,
	workers int,
	formula settlement.Formula,
) (*SequencerService, error) {
	s, err := sequencer.New(stg, coordinator, tickInterval, workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create sequencer: %w", err)
	}
	s.Formula = formula
	return &SequencerService{sequencer: s}, nil
}

// Start begins the finalization loop. It returns an error if the service is
// already running.
func (ss *SequencerService) Start(ctx context.Context) error {
	return ss.sequencer.Start(ctx)
}

// FinalizeNow finalizes the pending rounds without waiting for the next tick
// and returns how many were finalized.
func (ss *SequencerService) FinalizeNow(ctx context.Context) (int, error) {
	n, err := ss.sequencer.FinalizePending(ctx)
	if err != nil {
		log.Warnw("some rounds could not be finalized", "finalized", n, "error", err.Error())
	}
	return n, err
}

// Stop halts the finalization loop.
func (ss *SequencerService) Stop() {
	if err := ss.sequencer.Stop(); err != nil {
		log.Warnw("sequencer service stopped", "error", err.Error())
	}
}
