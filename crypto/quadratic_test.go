package crypto

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestISqrtSmallValues(t *testing.T) {
	c := qt.New(t)
	expected := []int64{0, 1, 1, 1, 2, 2, 2, 2, 2, 3, 3, 3, 3, 3, 3, 3, 4}
	for v, w := range expected {
		c.Assert(ISqrt(big.NewInt(int64(v))).Int64(), qt.Equals, w, qt.Commentf("v=%d", v))
	}
}

func TestISqrtBounds(t *testing.T) {
	c := qt.New(t)
	check := func(v *big.Int) {
		w := ISqrt(v)
		// w^2 <= v < (w+1)^2
		sq := new(big.Int).Mul(w, w)
		c.Assert(sq.Cmp(v) <= 0, qt.IsTrue, qt.Commentf("v=%s w=%s", v, w))
		next := new(big.Int).Add(w, big.NewInt(1))
		next.Mul(next, next)
		c.Assert(v.Cmp(next) < 0, qt.IsTrue, qt.Commentf("v=%s w=%s", v, w))
		c.Assert(w.Cmp(new(big.Int).Sqrt(v)), qt.Equals, 0)
	}
	for i := int64(0); i < 2000; i++ {
		check(big.NewInt(i))
	}
	// perfect squares and their neighbours, where the naive fixed point loop
	// oscillates
	for _, k := range []int64{10, 200, 400, 1 << 20, 1<<31 - 1} {
		sq := new(big.Int).Mul(big.NewInt(k), big.NewInt(k))
		check(sq)
		check(new(big.Int).Sub(sq, big.NewInt(1)))
		check(new(big.Int).Add(sq, big.NewInt(1)))
	}
	// values up to the field size
	max := new(big.Int).Sub(FieldModulus(), big.NewInt(1))
	check(max)
	for i := 0; i < 50; i++ {
		v, err := RandomFieldElement()
		c.Assert(err, qt.IsNil)
		check(v)
	}
}

func TestQuadraticWeight(t *testing.T) {
	c := qt.New(t)

	w, err := QuadraticWeight(big.NewInt(40000))
	c.Assert(err, qt.IsNil)
	c.Assert(w.Int64(), qt.Equals, int64(200))

	w, err = QuadraticWeight(big.NewInt(39999))
	c.Assert(err, qt.IsNil)
	c.Assert(w.Int64(), qt.Equals, int64(199))

	w, err = QuadraticWeight(nil)
	c.Assert(err, qt.IsNil)
	c.Assert(w.Sign(), qt.Equals, 0)

	_, err = QuadraticWeight(big.NewInt(-1))
	c.Assert(err, qt.ErrorIs, ErrNegativeCredits)

	_, err = QuadraticWeight(FieldModulus())
	c.Assert(err, qt.ErrorIs, ErrArithmeticOverflow)
}

func TestInField(t *testing.T) {
	c := qt.New(t)
	q := FieldModulus()
	c.Assert(InField(q), qt.IsFalse)
	c.Assert(InField(new(big.Int).Sub(q, big.NewInt(1))), qt.IsTrue)
	c.Assert(InField(big.NewInt(0)), qt.IsTrue)
	c.Assert(InField(nil), qt.IsFalse)
	c.Assert(InField(big.NewInt(-1)), qt.IsFalse)
}
