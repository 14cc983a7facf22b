package util

import (
	"crypto/rand"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RandomBytes generates a random byte slice of length n.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// RandomAddress generates a random Ethereum address.
func RandomAddress() common.Address {
	return common.BytesToAddress(RandomBytes(common.AddressLength))
}

// RandomUint64 generates a random integer in [min, max). It panics if max is
// not greater than min.
func RandomUint64(min, max uint64) uint64 {
	if max <= min {
		panic("empty range")
	}
	num, err := rand.Int(rand.Reader, new(big.Int).SetUint64(max-min))
	if err != nil {
		panic(err)
	}
	return num.Uint64() + min
}
