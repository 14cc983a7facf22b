package types

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// BigInt is a big.Int wrapper which marshals JSON to a string representation
// of the big number. Note that a nil pointer value marshals as the empty
// string.
type BigInt big.Int

// NewInt returns a BigInt holding x.
func NewInt(x int64) *BigInt {
	return (*BigInt)(big.NewInt(x))
}

// NewBigInt returns a BigInt holding a copy of x. A nil x returns zero.
func NewBigInt(x *big.Int) *BigInt {
	if x == nil {
		return new(BigInt)
	}
	return (*BigInt)(new(big.Int).Set(x))
}

// MarshalText returns the decimal string representation of the big number.
func (i BigInt) MarshalText() ([]byte, error) {
	return (*big.Int)(&i).MarshalText()
}

// UnmarshalText parses the text representation into the big number.
func (i *BigInt) UnmarshalText(data []byte) error {
	if i == nil {
		return fmt.Errorf("cannot unmarshal into nil BigInt")
	}
	if _, ok := (*big.Int)(i).SetString(string(data), 0); !ok {
		return fmt.Errorf("invalid BigInt text: %q", data)
	}
	return nil
}

// MarshalCBOR encodes the big number as a CBOR bignum.
func (i BigInt) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal((*big.Int)(&i))
}

// UnmarshalCBOR decodes a CBOR bignum (or integer) into the big number.
func (i *BigInt) UnmarshalCBOR(data []byte) error {
	bi := new(big.Int)
	if err := cbor.Unmarshal(data, bi); err != nil {
		return err
	}
	(*big.Int)(i).Set(bi)
	return nil
}

// String returns the decimal representation of the big number.
func (i *BigInt) String() string {
	return (*big.Int)(i).String()
}

// MathBigInt converts b to a math/big *Int.
func (i *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(i)
}

// SetUint64 sets the value of i to x and returns i.
func (i *BigInt) SetUint64(x uint64) *BigInt {
	(*big.Int)(i).SetUint64(x)
	return i
}

// SetBigInt sets the value of i to x and returns i.
func (i *BigInt) SetBigInt(x *big.Int) *BigInt {
	(*big.Int)(i).Set(x)
	return i
}

// Bytes returns the big-endian bytes of the absolute value of i.
func (i *BigInt) Bytes() []byte {
	return (*big.Int)(i).Bytes()
}

// SetBytes interprets buf as big-endian bytes and sets i to that value.
func (i *BigInt) SetBytes(buf []byte) *BigInt {
	(*big.Int)(i).SetBytes(buf)
	return i
}

// Equal helper to compare BigInt objects
func (i *BigInt) Equal(j *BigInt) bool {
	return (*big.Int)(i).Cmp((*big.Int)(j)) == 0
}

// BigInts converts a slice of math/big integers into BigInt pointers. Nil
// entries are stored as zero.
func BigInts(values []*big.Int) []*BigInt {
	out := make([]*BigInt, len(values))
	for i, v := range values {
		out[i] = NewBigInt(v)
	}
	return out
}

// MathBigInts is the inverse of BigInts.
func MathBigInts(values []*BigInt) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = new(big.Int)
			continue
		}
		out[i] = new(big.Int).Set(v.MathBigInt())
	}
	return out
}
