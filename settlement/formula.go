// Package settlement computes the matching funds claimable by every recipient
// of a round from its tally.
package settlement

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/vocdoni-qf/tally"
)

// ErrInsufficientBudget is returned when the round budget cannot cover the
// contributions spent.
var ErrInsufficientBudget = errors.New("insufficient budget")

// Params are the token amounts of a round.
type Params struct {
	// MatchingPool is the amount added to the round by the matching funders.
	MatchingPool *big.Int
	// TotalContributions is the amount contributed by every user.
	TotalContributions *big.Int
	// VoiceCreditFactor is the number of tokens each voice credit is worth.
	VoiceCreditFactor *big.Int
}

func (p *Params) validate() error {
	if p.MatchingPool == nil || p.MatchingPool.Sign() < 0 {
		return fmt.Errorf("invalid matching pool %v", p.MatchingPool)
	}
	if p.TotalContributions == nil || p.TotalContributions.Sign() < 0 {
		return fmt.Errorf("invalid total contributions %v", p.TotalContributions)
	}
	if p.VoiceCreditFactor == nil || p.VoiceCreditFactor.Sign() <= 0 {
		return fmt.Errorf("invalid voice credit factor %v", p.VoiceCreditFactor)
	}
	return nil
}

// Formula allocates the round budget among the recipients of a tally. It
// returns one amount per tally slot, including the no-recipient one.
type Formula interface {
	Allocate(t *tally.Tally, p *Params) ([]*big.Int, error)
}

// ClrFundFormula is the clr.fund allocation. Every recipient gets the tokens
// spent on it plus a share of the remaining budget proportional to its
// result:
//
//	budget = MatchingPool + TotalContributions
//	pool = budget - TotalSpent * VoiceCreditFactor
//	claim[r] = pool * Results[r] / sum(Results) + PerRecipientSpent[r] * VoiceCreditFactor
//
// Divisions round down, so the sum of the claims never exceeds the budget.
type ClrFundFormula struct{}

// Allocate implements Formula.
func (ClrFundFormula) Allocate(t *tally.Tally, p *Params) ([]*big.Int, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	budget := new(big.Int).Add(p.MatchingPool, p.TotalContributions)
	pool := new(big.Int).Mul(t.TotalSpent, p.VoiceCreditFactor)
	pool.Sub(budget, pool)
	if pool.Sign() < 0 {
		return nil, fmt.Errorf("%w: budget %s, spent %s voice credits", ErrInsufficientBudget, budget, t.TotalSpent)
	}
	total := t.ResultsSum()
	claims := make([]*big.Int, len(t.Results))
	for r := range t.Results {
		claim := new(big.Int).Mul(t.PerRecipientSpent[r], p.VoiceCreditFactor)
		if total.Sign() > 0 {
			quadratic := new(big.Int).Mul(pool, t.Results[r])
			quadratic.Quo(quadratic, total)
			claim.Add(claim, quadratic)
		}
		claims[r] = claim
	}
	return claims, nil
}
