package signup

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/vocdoni/arbo"

	"github.com/vocdoni/vocdoni-qf/state"
	"github.com/vocdoni/vocdoni-qf/tally"
	"github.com/vocdoni/vocdoni-qf/types"
)

// Tree is the signup tree of a round. Every access to the underlying arbo
// tree is protected by mu.
type Tree struct {
	ID    uuid.UUID
	Round types.RoundID
	mu    sync.Mutex
	tree  *arbo.Tree
}

// Add inserts the initial state of a registration at the state index.
func (t *Tree) Add(index uint64, reg *state.Registration) error {
	h, err := state.NewUserState(reg).Hash()
	if err != nil {
		return fmt.Errorf("hash registration %d: %w", index, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Add(state.LeafKey(index), state.LeafValue(h))
}

// Root returns the current root of the tree.
func (t *Tree) Root() (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, err := t.tree.Root()
	if err != nil {
		return nil, err
	}
	return arbo.BytesToBigInt(root), nil
}

// Size returns the number of registrations in the tree.
func (t *Tree) Size() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.GetNLeafs()
}

// GenProof generates the inclusion proof of the state index. It returns
// ErrLeafNotFound if the index is not registered.
func (t *Tree) GenProof(index uint64) (*tally.ArboProof, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	proof, err := tally.GenArboProof(t.tree, state.LeafKey(index))
	if err != nil {
		if errors.Is(err, arbo.ErrKeyNotFound) {
			return nil, ErrLeafNotFound
		}
		return nil, err
	}
	if !proof.Existence {
		return nil, ErrLeafNotFound
	}
	return proof, nil
}
