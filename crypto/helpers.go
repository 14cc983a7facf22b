package crypto

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// FieldModulus returns the BN254 scalar field modulus. It is the field of the
// BabyJubJub coordinates and of the Poseidon hash, so every value carried in
// a command, a ciphertext or a commitment must be lower than it.
func FieldModulus() *big.Int {
	return fr.Modulus()
}

// InField returns true if 0 <= v < FieldModulus().
func InField(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(fr.Modulus()) < 0
}

// RandomFieldElement returns a uniformly random element of the BN254 scalar
// field.
func RandomFieldElement() (*big.Int, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return nil, fmt.Errorf("failed to generate random field element: %w", err)
	}
	return e.BigInt(new(big.Int)), nil
}
