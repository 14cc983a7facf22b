package crypto

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrArithmeticOverflow is returned when a value does not fit in the
	// protocol field.
	ErrArithmeticOverflow = errors.New("value exceeds the protocol field")
	// ErrNegativeCredits is returned when a negative voice credit amount is
	// converted into a vote weight.
	ErrNegativeCredits = errors.New("negative voice credits")
)

// ISqrt returns the largest integer w such that w*w <= v, using the
// Babylonian method over arbitrary precision integers. v must be
// non-negative.
//
// The iteration starts at v/2, which is >= sqrt(v) for every v >= 2, and
// decreases monotonically until it reaches the floor square root. It stops at
// the first step that does not decrease, since for v = k*k-1 the update
// alternates between k-1 and k forever.
func ISqrt(v *big.Int) *big.Int {
	if v.Cmp(big.NewInt(2)) < 0 {
		return new(big.Int).Set(v)
	}
	x := new(big.Int).Rsh(v, 1)
	y := new(big.Int)
	for {
		// y = (x + v/x) / 2
		y.Quo(v, x)
		y.Add(y, x)
		y.Rsh(y, 1)
		if y.Cmp(x) >= 0 {
			return x
		}
		x.Set(y)
	}
}

// QuadraticWeight converts a voice credit budget into the vote weight
// recorded for it, floor(sqrt(voiceCredits)). Many credit amounts map to the
// same weight, so the conversion cannot be reversed.
func QuadraticWeight(voiceCredits *big.Int) (*big.Int, error) {
	if voiceCredits == nil {
		return new(big.Int), nil
	}
	if voiceCredits.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeCredits, voiceCredits)
	}
	if !InField(voiceCredits) {
		return nil, fmt.Errorf("%w: voice credits %s", ErrArithmeticOverflow, voiceCredits)
	}
	return ISqrt(voiceCredits), nil
}
