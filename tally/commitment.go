package tally

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/vocdoni/arbo"
	"github.com/vocdoni/arbo/memdb"

	"github.com/vocdoni/vocdoni-qf/crypto"
	"github.com/vocdoni/vocdoni-qf/types"
)

// hashFunc is the hash function of the commitment trees.
var hashFunc = arbo.HashFunctionPoseidon

// Salts blind the tally commitments.
type Salts struct {
	Results           *big.Int
	TotalSpent        *big.Int
	PerRecipientSpent *big.Int
}

// NewSalts returns random salts.
func NewSalts() (*Salts, error) {
	s := &Salts{}
	for _, p := range []**big.Int{&s.Results, &s.TotalSpent, &s.PerRecipientSpent} {
		salt, err := crypto.RandomFieldElement()
		if err != nil {
			return nil, err
		}
		*p = salt
	}
	return s, nil
}

// Commitments are the salted commitments to a tally. The per-recipient
// vectors are committed through the root of a tree with one leaf per
// recipient, as Poseidon(root, salt). The total spent is committed as
// Poseidon(total, salt).
type Commitments struct {
	Results               *big.Int
	ResultsRoot           *big.Int
	TotalSpent            *big.Int
	PerRecipientSpent     *big.Int
	PerRecipientSpentRoot *big.Int
}

// Equal returns true if both commitments hold the same values.
func (cm *Commitments) Equal(other *Commitments) bool {
	return cm.Results.Cmp(other.Results) == 0 &&
		cm.ResultsRoot.Cmp(other.ResultsRoot) == 0 &&
		cm.TotalSpent.Cmp(other.TotalSpent) == 0 &&
		cm.PerRecipientSpent.Cmp(other.PerRecipientSpent) == 0 &&
		cm.PerRecipientSpentRoot.Cmp(other.PerRecipientSpentRoot) == 0
}

// Trees holds the commitment trees of a tally, used to generate the proofs of
// the values of every recipient.
type Trees struct {
	Results           *arbo.Tree
	PerRecipientSpent *arbo.Tree
}

// Commit computes the commitments of the tally with the salts provided.
func Commit(t *Tally, salts *Salts) (*Commitments, *Trees, error) {
	if salts == nil {
		return nil, nil, fmt.Errorf("salts cannot be nil")
	}
	resultsTree, resultsRoot, err := vectorTree(t.Results)
	if err != nil {
		return nil, nil, fmt.Errorf("results tree: %w", err)
	}
	spentTree, spentRoot, err := vectorTree(t.PerRecipientSpent)
	if err != nil {
		return nil, nil, fmt.Errorf("per recipient spent tree: %w", err)
	}
	cm := &Commitments{
		ResultsRoot:           resultsRoot,
		PerRecipientSpentRoot: spentRoot,
	}
	if cm.Results, err = HashWithSalt(resultsRoot, salts.Results); err != nil {
		return nil, nil, err
	}
	if cm.PerRecipientSpent, err = HashWithSalt(spentRoot, salts.PerRecipientSpent); err != nil {
		return nil, nil, err
	}
	if cm.TotalSpent, err = HashWithSalt(t.TotalSpent, salts.TotalSpent); err != nil {
		return nil, nil, err
	}
	return cm, &Trees{Results: resultsTree, PerRecipientSpent: spentTree}, nil
}

// HashWithSalt returns Poseidon(v, salt).
func HashWithSalt(v, salt *big.Int) (*big.Int, error) {
	if !crypto.InField(v) || !crypto.InField(salt) {
		return nil, crypto.ErrArithmeticOverflow
	}
	return poseidon.Hash([]*big.Int{v, salt})
}

// LeafKey returns the tree key of a recipient.
func LeafKey(recipient uint64) []byte {
	return arbo.BigIntToBytes(types.TallyTreeKeyLen, new(big.Int).SetUint64(recipient))
}

// LeafValue returns the tree value of a tally value.
func LeafValue(v *big.Int) []byte {
	return arbo.BigIntToBytes(hashFunc.Len(), v)
}

// vectorTree returns an in memory tree with one leaf per element of the
// vector, and its root.
func vectorTree(values []*big.Int) (*arbo.Tree, *big.Int, error) {
	tree, err := arbo.NewTree(arbo.Config{
		Database:     memdb.New(),
		MaxLevels:    types.TallyTreeMaxLevels,
		HashFunction: hashFunc,
	})
	if err != nil {
		return nil, nil, err
	}
	keys := make([][]byte, len(values))
	leaves := make([][]byte, len(values))
	for i, v := range values {
		if !crypto.InField(v) {
			return nil, nil, fmt.Errorf("%w: value of recipient %d", crypto.ErrArithmeticOverflow, i)
		}
		keys[i] = LeafKey(uint64(i))
		leaves[i] = LeafValue(v)
	}
	invalid, err := tree.AddBatch(keys, leaves)
	if err != nil {
		return nil, nil, err
	}
	if len(invalid) > 0 {
		return nil, nil, fmt.Errorf("cannot add %d leaves to the tree", len(invalid))
	}
	root, err := tree.Root()
	if err != nil {
		return nil, nil, err
	}
	return tree, arbo.BytesToBigInt(root), nil
}
