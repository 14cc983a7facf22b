package poseidon

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

func TestMultiPoseidon(t *testing.T) {
	c := qt.New(t)

	_, err := MultiPoseidon()
	c.Assert(err, qt.IsNotNil)

	inputs := make([]*big.Int, 257)
	for i := range inputs {
		inputs[i] = big.NewInt(int64(i))
	}
	_, err = MultiPoseidon(inputs...)
	c.Assert(err, qt.IsNotNil)

	// up to 16 inputs it is a plain poseidon hash
	single, err := MultiPoseidon(inputs[:7]...)
	c.Assert(err, qt.IsNil)
	expected, err := poseidon.Hash(inputs[:7])
	c.Assert(err, qt.IsNil)
	c.Assert(single.Cmp(expected), qt.Equals, 0)

	// more than 16 inputs are hashed in chunks
	h1, err := MultiPoseidon(inputs[:40]...)
	c.Assert(err, qt.IsNil)
	h2, err := MultiPoseidon(inputs[:40]...)
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Cmp(h2), qt.Equals, 0)
	h3, err := MultiPoseidon(inputs[:41]...)
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Cmp(h3), qt.Not(qt.Equals), 0)
}
