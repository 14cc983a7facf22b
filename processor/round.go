package processor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/log"
	"github.com/vocdoni/vocdoni-qf/message"
	"github.com/vocdoni/vocdoni-qf/settlement"
	"github.com/vocdoni/vocdoni-qf/state"
	"github.com/vocdoni/vocdoni-qf/tally"
)

// RoundInputs is everything the coordinator needs to finalize a round.
type RoundInputs struct {
	Round         *config.Round
	Registrations []*state.Registration
	// Batches is the ordered message log of the round.
	Batches [][]*message.Message
	// Salts of the tally commitments, random if nil.
	Salts *tally.Salts
	// Formula of the matching funds, clr.fund if nil.
	Formula settlement.Formula
}

// RoundOutcome is the result of finalizing a round.
type RoundOutcome struct {
	Table      *state.Table
	StateRoot  *big.Int
	Settlement *settlement.Settlement
	Applied    uint64
	Discarded  uint64
}

// FinalizeRound builds the initial state from the registrations, applies
// every message batch in order, reduces the final state into the tally and
// settles it. The round must be valid, otherwise an error wrapping
// config.ErrInvalidRound is returned before any message is processed.
func FinalizeRound(ctx context.Context, coordinator *keys.Keypair, in *RoundInputs, workers int) (*RoundOutcome, error) {
	if in == nil || in.Round == nil {
		return nil, fmt.Errorf("%w: missing round", config.ErrInvalidRound)
	}
	if err := in.Round.Validate(); err != nil {
		return nil, err
	}
	if coordinator == nil || !keys.Equal(coordinator.PublicKey, in.Round.CoordinatorPubKey) {
		return nil, fmt.Errorf("%w: coordinator key does not match", config.ErrInvalidRound)
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	startTime := time.Now()

	table := state.NewTable(in.Round.MaxRecipients, in.Round.MaxVoteWeight)
	totalCredits := new(big.Int)
	for i, reg := range in.Registrations {
		if reg.VoiceCredits == nil || reg.VoiceCredits.Cmp(in.Round.MaxVoiceCredits) > 0 {
			return nil, fmt.Errorf("%w: registration %d over max voice credits", config.ErrInvalidRound, i+1)
		}
		if _, err := table.Register(reg); err != nil {
			return nil, fmt.Errorf("%w: registration %d: %v", config.ErrInvalidRound, i+1, err)
		}
		totalCredits.Add(totalCredits, reg.VoiceCredits)
	}

	out := &RoundOutcome{}
	for seq, batch := range in.Batches {
		res, err := ProcessBatch(ctx, coordinator, table, batch, workers)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", seq+1, err)
		}
		table = res.Table
		out.Applied += uint64(res.Applied)
		out.Discarded += uint64(len(res.Discarded))
	}
	out.Table = table

	var err error
	if out.StateRoot, err = table.Root(); err != nil {
		return nil, fmt.Errorf("state root: %w", err)
	}
	t, err := tally.ReduceParallel(ctx, table.Users(), in.Round.MaxRecipients, workers)
	if err != nil {
		return nil, fmt.Errorf("tally: %w", err)
	}
	salts := in.Salts
	if salts == nil {
		if salts, err = tally.NewSalts(); err != nil {
			return nil, err
		}
	}
	params := &settlement.Params{
		MatchingPool:       new(big.Int).Set(in.Round.MatchingPool),
		TotalContributions: totalCredits.Mul(totalCredits, in.Round.VoiceCreditFactor),
		VoiceCreditFactor:  new(big.Int).Set(in.Round.VoiceCreditFactor),
	}
	if out.Settlement, err = settlement.Settle(t, salts, params, in.Formula); err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}

	roundsFinalized.Inc()
	log.Infow("round finalized",
		"round", in.Round.ID.String(),
		"users", table.Len(),
		"applied", out.Applied,
		"discarded", out.Discarded,
		"totalSpent", t.TotalSpent.String(),
		"duration", time.Since(startTime).String(),
	)
	return out, nil
}
