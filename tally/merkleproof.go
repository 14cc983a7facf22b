package tally

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/arbo"
)

// ArboProof stores the proof in arbo native types.
type ArboProof struct {
	// Key+Value hashed through Siblings path, should produce Root hash
	Root      []byte
	Siblings  []byte // packed
	Key       []byte
	Value     []byte
	Existence bool
}

// GenArboProof generates the proof of the key k in the tree.
func GenArboProof(t *arbo.Tree, k []byte) (*ArboProof, error) {
	root, err := t.Root()
	if err != nil {
		return nil, err
	}
	leafK, leafV, packedSiblings, existence, err := t.GenProof(k)
	if err != nil {
		return nil, err
	}
	return &ArboProof{
		Root:      root,
		Siblings:  packedSiblings,
		Key:       leafK,
		Value:     leafV,
		Existence: existence,
	}, nil
}

// Verify checks that the proof is an inclusion proof of its key and value
// under the root provided.
func (p *ArboProof) Verify(root *big.Int) error {
	if !p.Existence {
		return fmt.Errorf("not an inclusion proof")
	}
	if arbo.BytesToBigInt(p.Root).Cmp(root) != 0 {
		return fmt.Errorf("proof root does not match")
	}
	valid, err := arbo.CheckProof(hashFunc, p.Key, p.Value, p.Root, p.Siblings)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("invalid proof")
	}
	return nil
}

// ValueBigInt returns the proven value.
func (p *ArboProof) ValueBigInt() *big.Int {
	return arbo.BytesToBigInt(p.Value)
}

// Proofs generates the proofs of the results and per recipient spent values
// of a recipient.
func (tr *Trees) Proofs(recipient uint64) (results *ArboProof, spent *ArboProof, err error) {
	k := LeafKey(recipient)
	if results, err = GenArboProof(tr.Results, k); err != nil {
		return nil, nil, fmt.Errorf("results proof: %w", err)
	}
	if spent, err = GenArboProof(tr.PerRecipientSpent, k); err != nil {
		return nil, nil, fmt.Errorf("spent proof: %w", err)
	}
	return results, spent, nil
}
