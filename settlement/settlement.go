package settlement

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/vocdoni-qf/tally"
)

// Settlement is the final result of a round: its tally, the commitments to
// it and the amount claimable by every recipient.
type Settlement struct {
	Tally       *tally.Tally
	Salts       *tally.Salts
	Commitments *tally.Commitments
	Params      *Params
	// Claims holds the amount of every tally slot, indexed by recipient.
	Claims []*big.Int

	trees *tally.Trees
}

// Settle commits to the tally with the salts provided and allocates the
// budget with the formula. A nil formula uses ClrFundFormula. The result only
// depends on its inputs, so settling the same tally with the same salts
// always gives the same settlement.
func Settle(t *tally.Tally, salts *tally.Salts, params *Params, formula Formula) (*Settlement, error) {
	if formula == nil {
		formula = ClrFundFormula{}
	}
	claims, err := formula.Allocate(t, params)
	if err != nil {
		return nil, err
	}
	if len(claims) != len(t.Results) {
		return nil, fmt.Errorf("formula returned %d claims for %d recipients", len(claims), len(t.Results))
	}
	commitments, trees, err := tally.Commit(t, salts)
	if err != nil {
		return nil, err
	}
	return &Settlement{
		Tally:       t,
		Salts:       salts,
		Commitments: commitments,
		Params:      params,
		Claims:      claims,
		trees:       trees,
	}, nil
}

// Claim returns the amount claimable by the recipient.
func (s *Settlement) Claim(recipient uint64) (*big.Int, error) {
	if recipient == 0 || recipient >= uint64(len(s.Claims)) {
		return nil, fmt.Errorf("recipient %d out of range", recipient)
	}
	return new(big.Int).Set(s.Claims[recipient]), nil
}

// TotalClaims returns the sum of every claim.
func (s *Settlement) TotalClaims() *big.Int {
	total := new(big.Int)
	for _, c := range s.Claims {
		total.Add(total, c)
	}
	return total
}
