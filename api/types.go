package api

import (
	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/settlement"
	"github.com/vocdoni/vocdoni-qf/tally"
	"github.com/vocdoni/vocdoni-qf/types"
)

// RoundInfo is the response to a round request.
type RoundInfo struct {
	Round          *config.Round `json:"round"`
	Status         string        `json:"status"`
	Error          string        `json:"error,omitempty"`
	Registrations  int           `json:"registrations"`
	MessageBatches uint64        `json:"messageBatches"`
	SignUpRoot     *types.BigInt `json:"signUpRoot"`
}

// Tally is the response to a tally request: the tally of a finalized round
// together with its commitments and the salts that open them.
type Tally struct {
	RoundHash         types.HexBytes  `json:"roundHash"`
	StateRoot         *types.BigInt   `json:"stateRoot"`
	Results           []*types.BigInt `json:"results"`
	PerRecipientSpent []*types.BigInt `json:"perRecipientSpent"`
	TotalSpent        *types.BigInt   `json:"totalSpent"`

	ResultsCommitment           *types.BigInt `json:"resultsCommitment"`
	ResultsRoot                 *types.BigInt `json:"resultsRoot"`
	ResultsSalt                 *types.BigInt `json:"resultsSalt"`
	PerRecipientSpentCommitment *types.BigInt `json:"perRecipientSpentCommitment"`
	PerRecipientSpentRoot       *types.BigInt `json:"perRecipientSpentRoot"`
	PerRecipientSpentSalt       *types.BigInt `json:"perRecipientSpentSalt"`
	TotalSpentCommitment        *types.BigInt `json:"totalSpentCommitment"`
	TotalSpentSalt              *types.BigInt `json:"totalSpentSalt"`

	AppliedMessages   uint64 `json:"appliedMessages"`
	DiscardedMessages uint64 `json:"discardedMessages"`
}

// Commitments returns the published tally commitments, used to verify the
// claims of the round.
func (t *Tally) Commitments() *tally.Commitments {
	return &tally.Commitments{
		Results:               t.ResultsCommitment.MathBigInt(),
		ResultsRoot:           t.ResultsRoot.MathBigInt(),
		TotalSpent:            t.TotalSpentCommitment.MathBigInt(),
		PerRecipientSpent:     t.PerRecipientSpentCommitment.MathBigInt(),
		PerRecipientSpentRoot: t.PerRecipientSpentRoot.MathBigInt(),
	}
}

// Claims is the response to a claims request.
type Claims struct {
	MatchingPool       *types.BigInt   `json:"matchingPool"`
	TotalContributions *types.BigInt   `json:"totalContributions"`
	VoiceCreditFactor  *types.BigInt   `json:"voiceCreditFactor"`
	Claims             []*types.BigInt `json:"claims"`
}

// ArboProof is the JSON form of a tally.ArboProof.
type ArboProof struct {
	Root      types.HexBytes `json:"root"`
	Siblings  types.HexBytes `json:"siblings"`
	Key       types.HexBytes `json:"key"`
	Value     types.HexBytes `json:"value"`
	Existence bool           `json:"existence"`
}

// NewArboProof returns the JSON form of the proof.
func NewArboProof(p *tally.ArboProof) *ArboProof {
	if p == nil {
		return nil
	}
	return &ArboProof{
		Root:      p.Root,
		Siblings:  p.Siblings,
		Key:       p.Key,
		Value:     p.Value,
		Existence: p.Existence,
	}
}

// Proof returns the tally.ArboProof of the JSON form.
func (p *ArboProof) Proof() *tally.ArboProof {
	return &tally.ArboProof{
		Root:      p.Root,
		Siblings:  p.Siblings,
		Key:       p.Key,
		Value:     p.Value,
		Existence: p.Existence,
	}
}

// Claim is the response to a claim request.
type Claim struct {
	RecipientIndex        uint64         `json:"recipientIndex"`
	RecipientAddress      types.HexBytes `json:"recipientAddress,omitempty"`
	Amount                *types.BigInt  `json:"amount"`
	Result                *types.BigInt  `json:"result"`
	ResultProof           *ArboProof     `json:"resultProof"`
	ResultsRoot           *types.BigInt  `json:"resultsRoot"`
	ResultsSalt           *types.BigInt  `json:"resultsSalt"`
	Spent                 *types.BigInt  `json:"spent"`
	SpentProof            *ArboProof     `json:"spentProof"`
	PerRecipientSpentRoot *types.BigInt  `json:"perRecipientSpentRoot"`
	PerRecipientSpentSalt *types.BigInt  `json:"perRecipientSpentSalt"`
	TotalSpent            *types.BigInt  `json:"totalSpent"`
	TotalSpentSalt        *types.BigInt  `json:"totalSpentSalt"`
}

// NewClaim returns the JSON form of the claim data.
func NewClaim(cd *settlement.ClaimData) *Claim {
	return &Claim{
		RecipientIndex:        cd.RecipientIndex,
		Amount:                types.NewBigInt(cd.Amount),
		Result:                types.NewBigInt(cd.Result),
		ResultProof:           NewArboProof(cd.ResultProof),
		ResultsRoot:           types.NewBigInt(cd.ResultsRoot),
		ResultsSalt:           types.NewBigInt(cd.ResultsSalt),
		Spent:                 types.NewBigInt(cd.Spent),
		SpentProof:            NewArboProof(cd.SpentProof),
		PerRecipientSpentRoot: types.NewBigInt(cd.PerRecipientSpentRoot),
		PerRecipientSpentSalt: types.NewBigInt(cd.PerRecipientSpentSalt),
		TotalSpent:            types.NewBigInt(cd.TotalSpent),
		TotalSpentSalt:        types.NewBigInt(cd.TotalSpentSalt),
	}
}

// ClaimData returns the settlement.ClaimData of the JSON form, which can be
// checked with settlement.VerifyClaimData.
func (c *Claim) ClaimData() *settlement.ClaimData {
	cd := &settlement.ClaimData{
		RecipientIndex:        c.RecipientIndex,
		Amount:                c.Amount.MathBigInt(),
		Result:                c.Result.MathBigInt(),
		ResultsRoot:           c.ResultsRoot.MathBigInt(),
		ResultsSalt:           c.ResultsSalt.MathBigInt(),
		Spent:                 c.Spent.MathBigInt(),
		PerRecipientSpentRoot: c.PerRecipientSpentRoot.MathBigInt(),
		PerRecipientSpentSalt: c.PerRecipientSpentSalt.MathBigInt(),
		TotalSpent:            c.TotalSpent.MathBigInt(),
		TotalSpentSalt:        c.TotalSpentSalt.MathBigInt(),
	}
	if c.ResultProof != nil {
		cd.ResultProof = c.ResultProof.Proof()
	}
	if c.SpentProof != nil {
		cd.SpentProof = c.SpentProof.Proof()
	}
	return cd
}

// SignUp is the response to a signup proof request.
type SignUp struct {
	StateIndex uint64        `json:"stateIndex"`
	Root       *types.BigInt `json:"root"`
	Proof      *ArboProof    `json:"proof"`
}
