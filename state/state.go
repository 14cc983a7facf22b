// Package state holds the per-contributor state of a round and the rules that
// turn an opened command into a state transition.
package state

import (
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/vocdoni/arbo"
	"github.com/vocdoni/arbo/memdb"

	"github.com/vocdoni/vocdoni-qf/crypto"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/types"
)

var (
	ErrInvalidStateIndex   = errors.New("invalid state index")
	ErrSignatureInvalid    = errors.New("invalid signature")
	ErrNonceMismatch       = errors.New("nonce mismatch")
	ErrInvalidRecipient    = errors.New("invalid recipient")
	ErrInsufficientCredits = errors.New("insufficient voice credits")
)

// FirstNonce is the nonce expected in the first command of every user.
const FirstNonce = 1

// Registration is the signup of a contributor: the key that must sign its
// first command and the voice credits it received.
type Registration struct {
	PublicKey    *babyjub.PublicKey
	VoiceCredits *big.Int
}

// UserState is the state of a registered contributor.
type UserState struct {
	PublicKey          *babyjub.PublicKey
	VoiceCreditBalance *big.Int
	NextNonce          uint64
	// Votes holds the weight currently assigned to every recipient voted.
	Votes map[uint64]*big.Int
}

// NewUserState returns the initial state of a registration.
func NewUserState(reg *Registration) *UserState {
	return &UserState{
		PublicKey:          reg.PublicKey,
		VoiceCreditBalance: new(big.Int).Set(reg.VoiceCredits),
		NextNonce:          FirstNonce,
		Votes:              make(map[uint64]*big.Int),
	}
}

// Vote returns the weight assigned to the recipient, zero if none.
func (u *UserState) Vote(recipient uint64) *big.Int {
	if w, ok := u.Votes[recipient]; ok {
		return new(big.Int).Set(w)
	}
	return new(big.Int)
}

// Spent returns the voice credits spent by the current votes, the sum of the
// squared weights.
func (u *UserState) Spent() *big.Int {
	spent := new(big.Int)
	for _, w := range u.Votes {
		spent.Add(spent, new(big.Int).Mul(w, w))
	}
	return spent
}

// Clone returns a deep copy of the user state.
func (u *UserState) Clone() *UserState {
	votes := make(map[uint64]*big.Int, len(u.Votes))
	for r, w := range u.Votes {
		votes[r] = new(big.Int).Set(w)
	}
	return &UserState{
		PublicKey:          u.PublicKey,
		VoiceCreditBalance: new(big.Int).Set(u.VoiceCreditBalance),
		NextNonce:          u.NextNonce,
		Votes:              votes,
	}
}

// VotesHash returns the Poseidon commitment to the votes of the user. The
// recipients are folded in ascending order as acc = H(acc, recipient, weight)
// starting from zero, so a user that never voted commits to zero.
func (u *UserState) VotesHash() (*big.Int, error) {
	recipients := make([]uint64, 0, len(u.Votes))
	for r := range u.Votes {
		recipients = append(recipients, r)
	}
	slices.Sort(recipients)
	acc := new(big.Int)
	for _, r := range recipients {
		h, err := poseidon.Hash([]*big.Int{acc, new(big.Int).SetUint64(r), u.Votes[r]})
		if err != nil {
			return nil, fmt.Errorf("hash vote for recipient %d: %w", r, err)
		}
		acc = h
	}
	return acc, nil
}

// Hash returns the Poseidon hash of the key, balance, nonce and votes of the
// user. It is the leaf of the user in the state tree.
func (u *UserState) Hash() (*big.Int, error) {
	votes, err := u.VotesHash()
	if err != nil {
		return nil, err
	}
	return poseidon.Hash([]*big.Int{
		u.PublicKey.X,
		u.PublicKey.Y,
		u.VoiceCreditBalance,
		new(big.Int).SetUint64(u.NextNonce),
		votes,
	})
}

// Table is the state of every registered user, addressed by state index.
// State indexes start at 1.
//
// Registrations must not run concurrently with anything else. Once every user
// is registered, Apply can be called concurrently as long as every goroutine
// works on a different state index.
type Table struct {
	maxRecipients uint64
	maxVoteWeight *big.Int
	users         []*UserState
}

// NewTable returns an empty table. Recipients are valid in the range
// [1, maxRecipients]. A nil maxVoteWeight only bounds the weights to the
// field.
func NewTable(maxRecipients uint64, maxVoteWeight *big.Int) *Table {
	if maxVoteWeight == nil {
		maxVoteWeight = new(big.Int).Sub(crypto.FieldModulus(), big.NewInt(1))
	}
	return &Table{
		maxRecipients: maxRecipients,
		maxVoteWeight: new(big.Int).Set(maxVoteWeight),
	}
}

// MaxRecipients returns the highest valid recipient index.
func (t *Table) MaxRecipients() uint64 {
	return t.maxRecipients
}

// Register adds the user of the registration and returns its state index.
func (t *Table) Register(reg *Registration) (uint64, error) {
	if reg == nil {
		return 0, fmt.Errorf("nil registration")
	}
	if err := keys.ValidatePublicKey(reg.PublicKey); err != nil {
		return 0, err
	}
	if reg.VoiceCredits == nil || !crypto.InField(reg.VoiceCredits) {
		return 0, fmt.Errorf("invalid voice credits %v", reg.VoiceCredits)
	}
	t.users = append(t.users, NewUserState(reg))
	return uint64(len(t.users)), nil
}

// Len returns the number of registered users.
func (t *Table) Len() int {
	return len(t.users)
}

// User returns the state of the user with the state index provided.
func (t *Table) User(stateIndex uint64) (*UserState, error) {
	if stateIndex == 0 || stateIndex > uint64(len(t.users)) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStateIndex, stateIndex)
	}
	return t.users[stateIndex-1], nil
}

// Users returns the state of every user, ordered by state index.
func (t *Table) Users() []*UserState {
	users := make([]*UserState, len(t.users))
	copy(users, t.users)
	return users
}

// Clone returns an independent copy of the table.
func (t *Table) Clone() *Table {
	users := make([]*UserState, len(t.users))
	for i, u := range t.users {
		users[i] = u.Clone()
	}
	return &Table{
		maxRecipients: t.maxRecipients,
		maxVoteWeight: new(big.Int).Set(t.maxVoteWeight),
		users:         users,
	}
}

// Root returns the root of a Poseidon arbo tree with the hash of every user
// keyed by its state index. It commits to the keys, balances and nonces of
// the table.
func (t *Table) Root() (*big.Int, error) {
	tree, err := arbo.NewTree(arbo.Config{
		Database:     memdb.New(),
		MaxLevels:    types.StateTreeMaxLevels,
		HashFunction: arbo.HashFunctionPoseidon,
	})
	if err != nil {
		return nil, err
	}
	for i, u := range t.users {
		h, err := u.Hash()
		if err != nil {
			return nil, err
		}
		if err := tree.Add(LeafKey(uint64(i+1)), LeafValue(h)); err != nil {
			return nil, fmt.Errorf("cannot add user %d: %w", i+1, err)
		}
	}
	root, err := tree.Root()
	if err != nil {
		return nil, err
	}
	return arbo.BytesToBigInt(root), nil
}

// LeafKey returns the key of the state index in the state tree.
func LeafKey(index uint64) []byte {
	return arbo.BigIntToBytes(types.StateTreeKeyLen, new(big.Int).SetUint64(index))
}

// LeafValue returns the encoding of a user state hash as a state tree leaf.
func LeafValue(h *big.Int) []byte {
	return arbo.BigIntToBytes(arbo.HashFunctionPoseidon.Len(), h)
}
