// Package poseidon hashes inputs longer than the arity of the Poseidon
// permutation.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

const (
	// chunkSize is the number of inputs hashed together, the maximum arity
	// supported by go-iden3-crypto.
	chunkSize = 16
	// MaxInputs is the maximum number of inputs of MultiPoseidon: every
	// chunk hash must fit in a single final hash.
	MaxInputs = chunkSize * chunkSize
)

// MultiPoseidon hashes up to MaxInputs field elements. Up to chunkSize inputs
// the result is the plain Poseidon hash; longer inputs are split in chunks of
// chunkSize, each chunk is hashed and the result is the hash of the chunk
// hashes.
func MultiPoseidon(inputs ...*big.Int) (*big.Int, error) {
	switch {
	case len(inputs) == 0:
		return nil, fmt.Errorf("no inputs provided")
	case len(inputs) > MaxInputs:
		return nil, fmt.Errorf("too many inputs: %d > %d", len(inputs), MaxInputs)
	case len(inputs) <= chunkSize:
		return poseidon.Hash(inputs)
	}
	hashes := make([]*big.Int, 0, (len(inputs)+chunkSize-1)/chunkSize)
	for start := 0; start < len(inputs); start += chunkSize {
		end := min(start+chunkSize, len(inputs))
		h, err := poseidon.Hash(inputs[start:end])
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", start/chunkSize, err)
		}
		hashes = append(hashes, h)
	}
	return poseidon.Hash(hashes)
}
