package settlement

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/vocdoni-qf/tally"
)

// ErrInvalidClaim is returned when the data of a claim does not match the
// commitments of the round.
var ErrInvalidClaim = errors.New("invalid claim data")

// ClaimData is what a recipient needs to prove its claim: the tally values
// of the recipient, their inclusion proofs and the roots and salts that open
// the commitments.
type ClaimData struct {
	RecipientIndex        uint64
	Amount                *big.Int
	Result                *big.Int
	ResultProof           *tally.ArboProof
	ResultsRoot           *big.Int
	ResultsSalt           *big.Int
	Spent                 *big.Int
	SpentProof            *tally.ArboProof
	PerRecipientSpentRoot *big.Int
	PerRecipientSpentSalt *big.Int
	TotalSpent            *big.Int
	TotalSpentSalt        *big.Int
}

// ClaimData returns the claim data of the recipient.
func (s *Settlement) ClaimData(recipient uint64) (*ClaimData, error) {
	amount, err := s.Claim(recipient)
	if err != nil {
		return nil, err
	}
	if s.trees == nil {
		// settlements loaded from storage need their trees rebuilt
		_, trees, err := tally.Commit(s.Tally, s.Salts)
		if err != nil {
			return nil, err
		}
		s.trees = trees
	}
	resultProof, spentProof, err := s.trees.Proofs(recipient)
	if err != nil {
		return nil, err
	}
	return &ClaimData{
		RecipientIndex:        recipient,
		Amount:                amount,
		Result:                new(big.Int).Set(s.Tally.Results[recipient]),
		ResultProof:           resultProof,
		ResultsRoot:           s.Commitments.ResultsRoot,
		ResultsSalt:           s.Salts.Results,
		Spent:                 new(big.Int).Set(s.Tally.PerRecipientSpent[recipient]),
		SpentProof:            spentProof,
		PerRecipientSpentRoot: s.Commitments.PerRecipientSpentRoot,
		PerRecipientSpentSalt: s.Salts.PerRecipientSpent,
		TotalSpent:            new(big.Int).Set(s.Tally.TotalSpent),
		TotalSpentSalt:        s.Salts.TotalSpent,
	}, nil
}

// VerifyClaimData checks the claim data against the commitments of the
// round: the proofs must include the claimed values under the roots, and the
// roots, total spent and salts must open the commitments.
func VerifyClaimData(cd *ClaimData, commitments *tally.Commitments) error {
	if cd.ResultProof == nil || cd.SpentProof == nil {
		return fmt.Errorf("%w: missing proofs", ErrInvalidClaim)
	}
	if !bytes.Equal(cd.ResultProof.Key, tally.LeafKey(cd.RecipientIndex)) ||
		!bytes.Equal(cd.SpentProof.Key, tally.LeafKey(cd.RecipientIndex)) {
		return fmt.Errorf("%w: proofs for another recipient", ErrInvalidClaim)
	}
	if cd.ResultProof.ValueBigInt().Cmp(cd.Result) != 0 || cd.SpentProof.ValueBigInt().Cmp(cd.Spent) != 0 {
		return fmt.Errorf("%w: proven values do not match", ErrInvalidClaim)
	}
	if err := cd.ResultProof.Verify(cd.ResultsRoot); err != nil {
		return fmt.Errorf("%w: result proof: %v", ErrInvalidClaim, err)
	}
	if err := cd.SpentProof.Verify(cd.PerRecipientSpentRoot); err != nil {
		return fmt.Errorf("%w: spent proof: %v", ErrInvalidClaim, err)
	}
	for _, opening := range []struct {
		name              string
		value, salt, want *big.Int
	}{
		{"results", cd.ResultsRoot, cd.ResultsSalt, commitments.Results},
		{"per recipient spent", cd.PerRecipientSpentRoot, cd.PerRecipientSpentSalt, commitments.PerRecipientSpent},
		{"total spent", cd.TotalSpent, cd.TotalSpentSalt, commitments.TotalSpent},
	} {
		h, err := tally.HashWithSalt(opening.value, opening.salt)
		if err != nil {
			return fmt.Errorf("%w: %s commitment: %v", ErrInvalidClaim, opening.name, err)
		}
		if h.Cmp(opening.want) != 0 {
			return fmt.Errorf("%w: %s commitment does not match", ErrInvalidClaim, opening.name)
		}
	}
	return nil
}

