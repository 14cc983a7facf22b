// Package sequencer provides the coordinator worker that finalizes the
// funding rounds once their voting period is over: it replays the ordered
// message log of every pending round, computes the tally and the settlement
// and stores the results.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/log"
	"github.com/vocdoni/vocdoni-qf/message"
	"github.com/vocdoni/vocdoni-qf/processor"
	"github.com/vocdoni/vocdoni-qf/settlement"
	"github.com/vocdoni/vocdoni-qf/storage"
)

// Sequencer is a worker that finalizes the rounds of a coordinator.
type Sequencer struct {
	stg         *storage.Storage
	coordinator *keys.Keypair
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex

	// workers bounds the goroutines used to process a round.
	workers int
	// tickInterval is the time between two checks of the pending rounds.
	tickInterval time.Duration
	// Formula computes the claims of the rounds, clr.fund if nil. It must
	// be set before Start.
	Formula settlement.Formula
}

// New creates a new Sequencer instance for the coordinator keypair. Only the
// rounds whose coordinator public key matches the keypair are finalized.
func New(stg *storage.Storage, coordinator *keys.Keypair, tickInterval time.Duration, workers int) (*Sequencer, error) {
	if stg == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator keypair cannot be nil")
	}
	if tickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive")
	}
	log.Debugw("sequencer initialized",
		"coordinator", coordinator.SerializePublicKey(),
		"tickInterval", tickInterval.String(),
		"workers", workers,
	)
	return &Sequencer{
		stg:          stg,
		coordinator:  coordinator,
		workers:      workers,
		tickInterval: tickInterval,
	}, nil
}

// Start begins the round finalization routine in background, until the
// context is cancelled or Stop is called.
func (s *Sequencer) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("sequencer already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	go func(ctx context.Context) {
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		log.Infow("round finalizer started")
		for {
			if _, err := s.FinalizePending(ctx); err != nil && ctx.Err() == nil {
				log.Warnw("failed to finalize pending rounds", "error", err.Error())
			}
			select {
			case <-ctx.Done():
				log.Infow("round finalizer stopped")
				return
			case <-ticker.C:
			}
		}
	}(s.ctx)
	log.Infow("sequencer started successfully")
	return nil
}

// Stop gracefully shuts down the sequencer by canceling its context.
// It's safe to call Stop multiple times.
func (s *Sequencer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		log.Infow("sequencer stopped")
	}
	return nil
}

// FinalizePending finalizes every pending round of the coordinator and
// returns the number of rounds finalized. Rounds that can never be finalized
// are marked as failed; any other error is returned and the round is retried
// on the next call.
func (s *Sequencer) FinalizePending(ctx context.Context) (int, error) {
	rounds, err := s.stg.PendingRounds()
	if err != nil {
		return 0, fmt.Errorf("pending rounds: %w", err)
	}
	finalized := 0
	var errs []error
	for _, r := range rounds {
		if err := ctx.Err(); err != nil {
			return finalized, err
		}
		if !keys.Equal(r.CoordinatorPubKey, s.coordinator.PublicKey) {
			log.Debugw("skipping round of another coordinator", "round", r.ID.String())
			continue
		}
		err := s.finalize(ctx, r)
		switch {
		case err == nil:
			finalized++
		case errors.Is(err, config.ErrInvalidRound), errors.Is(err, settlement.ErrInsufficientBudget):
			log.Warnw("round cannot be finalized", "round", r.ID.String(), "error", err.Error())
			if err := s.stg.SetRoundFailed(&r.ID, err); err != nil {
				errs = append(errs, fmt.Errorf("round %s: %w", r.ID.String(), err))
			}
		default:
			errs = append(errs, fmt.Errorf("round %s: %w", r.ID.String(), err))
		}
	}
	return finalized, errors.Join(errs...)
}

// finalize processes a round and stores its results.
func (s *Sequencer) finalize(ctx context.Context, r *config.Round) error {
	startTime := time.Now()
	regs, err := s.stg.Registrations(&r.ID)
	if err != nil {
		return fmt.Errorf("registrations: %w", err)
	}
	var batches [][]*message.Message
	for seq := uint64(1); ; seq++ {
		batch, err := s.stg.MessageBatch(&r.ID, seq)
		if errors.Is(err, storage.ErrNoMoreElements) {
			break
		}
		if err != nil {
			return fmt.Errorf("message batch %d: %w", seq, err)
		}
		batches = append(batches, batch.Messages)
	}

	out, err := processor.FinalizeRound(ctx, s.coordinator, &processor.RoundInputs{
		Round:         r,
		Registrations: regs,
		Batches:       batches,
		Formula:       s.Formula,
	}, s.workers)
	if err != nil {
		return err
	}
	roundHash, err := r.Hash()
	if err != nil {
		return fmt.Errorf("round hash: %w", err)
	}
	res := storage.NewRoundResults(roundHash, out.StateRoot, out.Settlement)
	res.AppliedMessages = out.Applied
	res.DiscardedMessages = out.Discarded
	if err := s.stg.SetResults(&r.ID, res); err != nil {
		return fmt.Errorf("store results: %w", err)
	}
	log.Infow("round results stored",
		"round", r.ID.String(),
		"batches", len(batches),
		"registrations", len(regs),
		"duration", time.Since(startTime).String(),
	)
	return nil
}
