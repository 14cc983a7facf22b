package storage

import (
	"math/big"
	"time"

	"github.com/vocdoni/vocdoni-qf/settlement"
	"github.com/vocdoni/vocdoni-qf/tally"
	"github.com/vocdoni/vocdoni-qf/types"
)

// RoundResults are the stored results of a finalized round.
type RoundResults struct {
	// RoundHash binds the results to the round parameters.
	RoundHash types.HexBytes `json:"roundHash" cbor:"0,keyasint"`
	// StateRoot commits to the final state of every contributor.
	StateRoot *types.BigInt `json:"stateRoot" cbor:"1,keyasint"`

	Results           []*types.BigInt `json:"results" cbor:"2,keyasint"`
	PerRecipientSpent []*types.BigInt `json:"perRecipientSpent" cbor:"3,keyasint"`
	TotalSpent        *types.BigInt   `json:"totalSpent" cbor:"4,keyasint"`

	ResultsSalt           *types.BigInt `json:"resultsSalt" cbor:"5,keyasint"`
	PerRecipientSpentSalt *types.BigInt `json:"perRecipientSpentSalt" cbor:"6,keyasint"`
	TotalSpentSalt        *types.BigInt `json:"totalSpentSalt" cbor:"7,keyasint"`

	ResultsCommitment           *types.BigInt `json:"resultsCommitment" cbor:"8,keyasint"`
	ResultsRoot                 *types.BigInt `json:"resultsRoot" cbor:"9,keyasint"`
	PerRecipientSpentCommitment *types.BigInt `json:"perRecipientSpentCommitment" cbor:"10,keyasint"`
	PerRecipientSpentRoot       *types.BigInt `json:"perRecipientSpentRoot" cbor:"11,keyasint"`
	TotalSpentCommitment        *types.BigInt `json:"totalSpentCommitment" cbor:"12,keyasint"`

	MatchingPool       *types.BigInt   `json:"matchingPool" cbor:"13,keyasint"`
	TotalContributions *types.BigInt   `json:"totalContributions" cbor:"14,keyasint"`
	VoiceCreditFactor  *types.BigInt   `json:"voiceCreditFactor" cbor:"15,keyasint"`
	Claims             []*types.BigInt `json:"claims" cbor:"16,keyasint"`

	AppliedMessages   uint64    `json:"appliedMessages" cbor:"17,keyasint"`
	DiscardedMessages uint64    `json:"discardedMessages" cbor:"18,keyasint"`
	FinalizedAt       time.Time `json:"finalizedAt" cbor:"19,keyasint"`
}

// NewRoundResults returns the stored form of a settlement.
func NewRoundResults(roundHash types.HexBytes, stateRoot *big.Int, s *settlement.Settlement) *RoundResults {
	return &RoundResults{
		RoundHash:                   roundHash,
		StateRoot:                   types.NewBigInt(stateRoot),
		Results:                     types.BigInts(s.Tally.Results),
		PerRecipientSpent:           types.BigInts(s.Tally.PerRecipientSpent),
		TotalSpent:                  types.NewBigInt(s.Tally.TotalSpent),
		ResultsSalt:                 types.NewBigInt(s.Salts.Results),
		PerRecipientSpentSalt:       types.NewBigInt(s.Salts.PerRecipientSpent),
		TotalSpentSalt:              types.NewBigInt(s.Salts.TotalSpent),
		ResultsCommitment:           types.NewBigInt(s.Commitments.Results),
		ResultsRoot:                 types.NewBigInt(s.Commitments.ResultsRoot),
		PerRecipientSpentCommitment: types.NewBigInt(s.Commitments.PerRecipientSpent),
		PerRecipientSpentRoot:       types.NewBigInt(s.Commitments.PerRecipientSpentRoot),
		TotalSpentCommitment:        types.NewBigInt(s.Commitments.TotalSpent),
		MatchingPool:                types.NewBigInt(s.Params.MatchingPool),
		TotalContributions:          types.NewBigInt(s.Params.TotalContributions),
		VoiceCreditFactor:           types.NewBigInt(s.Params.VoiceCreditFactor),
		Claims:                      types.BigInts(s.Claims),
	}
}

// Settlement rebuilds the settlement of the results. The commitment trees
// are recomputed when the claim data is requested.
func (r *RoundResults) Settlement() *settlement.Settlement {
	return &settlement.Settlement{
		Tally: &tally.Tally{
			Results:           types.MathBigInts(r.Results),
			PerRecipientSpent: types.MathBigInts(r.PerRecipientSpent),
			TotalSpent:        bigOrZero(r.TotalSpent),
		},
		Salts: &tally.Salts{
			Results:           bigOrZero(r.ResultsSalt),
			TotalSpent:        bigOrZero(r.TotalSpentSalt),
			PerRecipientSpent: bigOrZero(r.PerRecipientSpentSalt),
		},
		Commitments: &tally.Commitments{
			Results:               bigOrZero(r.ResultsCommitment),
			ResultsRoot:           bigOrZero(r.ResultsRoot),
			TotalSpent:            bigOrZero(r.TotalSpentCommitment),
			PerRecipientSpent:     bigOrZero(r.PerRecipientSpentCommitment),
			PerRecipientSpentRoot: bigOrZero(r.PerRecipientSpentRoot),
		},
		Params: &settlement.Params{
			MatchingPool:       bigOrZero(r.MatchingPool),
			TotalContributions: bigOrZero(r.TotalContributions),
			VoiceCreditFactor:  bigOrZero(r.VoiceCreditFactor),
		},
		Claims: types.MathBigInts(r.Claims),
	}
}

func bigOrZero(i *types.BigInt) *big.Int {
	if i == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(i.MathBigInt())
}
