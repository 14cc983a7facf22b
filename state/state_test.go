package state

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/vocdoni-qf/crypto"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/message"
)

const testMaxRecipients = 4

// signedCommand returns a command signed by the signer key.
func signedCommand(c *qt.C, signer *keys.Keypair, newKey *babyjub.PublicKey,
	stateIndex, recipient uint64, weight int64, nonce uint64,
) (*message.Command, *babyjub.Signature) {
	if newKey == nil {
		newKey = signer.PublicKey
	}
	cmd := &message.Command{
		StateIndex:     stateIndex,
		NewPublicKey:   newKey,
		RecipientIndex: recipient,
		Weight:         big.NewInt(weight),
		Nonce:          nonce,
		Salt:           big.NewInt(1),
	}
	sig, err := cmd.Sign(signer)
	c.Assert(err, qt.IsNil)
	return cmd, sig
}

func newTestTable(c *qt.C, credits ...int64) (*Table, []*keys.Keypair) {
	table := NewTable(testMaxRecipients, nil)
	users := []*keys.Keypair{}
	for i, vc := range credits {
		k := keys.GenerateKeypair()
		idx, err := table.Register(&Registration{PublicKey: k.PublicKey, VoiceCredits: big.NewInt(vc)})
		c.Assert(err, qt.IsNil)
		c.Assert(idx, qt.Equals, uint64(i+1))
		users = append(users, k)
	}
	return table, users
}

func TestRegister(t *testing.T) {
	c := qt.New(t)
	table, users := newTestTable(c, 100, 200)
	c.Assert(table.Len(), qt.Equals, 2)

	u, err := table.User(2)
	c.Assert(err, qt.IsNil)
	c.Assert(keys.Equal(u.PublicKey, users[1].PublicKey), qt.IsTrue)
	c.Assert(u.VoiceCreditBalance.Int64(), qt.Equals, int64(200))
	c.Assert(u.NextNonce, qt.Equals, uint64(FirstNonce))
	c.Assert(u.Votes, qt.HasLen, 0)

	_, err = table.User(0)
	c.Assert(err, qt.ErrorIs, ErrInvalidStateIndex)
	_, err = table.User(3)
	c.Assert(err, qt.ErrorIs, ErrInvalidStateIndex)

	_, err = table.Register(&Registration{PublicKey: users[0].PublicKey, VoiceCredits: big.NewInt(-1)})
	c.Assert(err, qt.IsNotNil)
	_, err = table.Register(&Registration{PublicKey: &babyjub.PublicKey{X: big.NewInt(1), Y: big.NewInt(1)}, VoiceCredits: big.NewInt(1)})
	c.Assert(err, qt.ErrorIs, keys.ErrInvalidPublicKey)
}

func TestApplyVoteOverwrite(t *testing.T) {
	c := qt.New(t)
	table, users := newTestTable(c, 50000)

	c.Assert(table.Apply(signedCommand(c, users[0], nil, 1, 1, 100, 1)), qt.IsNil)
	c.Assert(table.Apply(signedCommand(c, users[0], nil, 1, 2, 100, 2)), qt.IsNil)
	c.Assert(table.Apply(signedCommand(c, users[0], nil, 1, 1, 200, 3)), qt.IsNil)

	u, err := table.User(1)
	c.Assert(err, qt.IsNil)
	c.Assert(u.NextNonce, qt.Equals, uint64(4))
	c.Assert(u.Vote(1).Int64(), qt.Equals, int64(200))
	c.Assert(u.Vote(2).Int64(), qt.Equals, int64(100))
	c.Assert(u.Vote(3).Int64(), qt.Equals, int64(0))
	c.Assert(u.Spent().Int64(), qt.Equals, int64(50000))
	c.Assert(u.VoiceCreditBalance.Int64(), qt.Equals, int64(0))

	// a zero weight removes the vote and refunds the credits
	c.Assert(table.Apply(signedCommand(c, users[0], nil, 1, 1, 0, 4)), qt.IsNil)
	c.Assert(u.Vote(1).Int64(), qt.Equals, int64(0))
	c.Assert(u.VoiceCreditBalance.Int64(), qt.Equals, int64(40000))
}

func TestApplyRejections(t *testing.T) {
	c := qt.New(t)
	table, users := newTestTable(c, 100, 100)

	// wrong state index
	err := table.Apply(signedCommand(c, users[0], nil, 3, 1, 1, 1))
	c.Assert(err, qt.ErrorIs, ErrInvalidStateIndex)

	// signed by another user
	err = table.Apply(signedCommand(c, users[1], nil, 1, 1, 1, 1))
	c.Assert(err, qt.ErrorIs, ErrSignatureInvalid)

	// wrong nonce
	err = table.Apply(signedCommand(c, users[0], nil, 1, 1, 1, 2))
	c.Assert(err, qt.ErrorIs, ErrNonceMismatch)

	// out of range recipient
	err = table.Apply(signedCommand(c, users[0], nil, 1, testMaxRecipients+1, 1, 1))
	c.Assert(err, qt.ErrorIs, ErrInvalidRecipient)

	// weight without recipient
	err = table.Apply(signedCommand(c, users[0], nil, 1, 0, 1, 1))
	c.Assert(err, qt.ErrorIs, ErrInvalidRecipient)

	// 11^2 > 100
	err = table.Apply(signedCommand(c, users[0], nil, 1, 1, 11, 1))
	c.Assert(err, qt.ErrorIs, ErrInsufficientCredits)

	// none of them changed the state
	u, err := table.User(1)
	c.Assert(err, qt.IsNil)
	c.Assert(u.NextNonce, qt.Equals, uint64(1))
	c.Assert(u.Votes, qt.HasLen, 0)
	c.Assert(u.VoiceCreditBalance.Int64(), qt.Equals, int64(100))

	// the nonce is consumed only by valid commands
	c.Assert(table.Apply(signedCommand(c, users[0], nil, 1, 1, 10, 1)), qt.IsNil)
	err = table.Apply(signedCommand(c, users[0], nil, 1, 1, 10, 1))
	c.Assert(err, qt.ErrorIs, ErrNonceMismatch)
}

func TestApplyMaxVoteWeight(t *testing.T) {
	c := qt.New(t)
	table := NewTable(testMaxRecipients, big.NewInt(5))
	k := keys.GenerateKeypair()
	_, err := table.Register(&Registration{PublicKey: k.PublicKey, VoiceCredits: big.NewInt(100)})
	c.Assert(err, qt.IsNil)

	err = table.Apply(signedCommand(c, k, nil, 1, 1, 6, 1))
	c.Assert(err, qt.ErrorIs, crypto.ErrArithmeticOverflow)
	c.Assert(table.Apply(signedCommand(c, k, nil, 1, 1, 5, 1)), qt.IsNil)
}

func TestApplyKeyChange(t *testing.T) {
	c := qt.New(t)
	table, users := newTestTable(c, 100)
	newKey := keys.GenerateKeypair()

	// key change only
	c.Assert(table.Apply(signedCommand(c, users[0], newKey.PublicKey, 1, 0, 0, 1)), qt.IsNil)
	u, err := table.User(1)
	c.Assert(err, qt.IsNil)
	c.Assert(keys.Equal(u.PublicKey, newKey.PublicKey), qt.IsTrue)
	c.Assert(u.Votes, qt.HasLen, 0)
	c.Assert(u.VoiceCreditBalance.Int64(), qt.Equals, int64(100))

	// the old key is no longer accepted
	err = table.Apply(signedCommand(c, users[0], nil, 1, 1, 1, 2))
	c.Assert(err, qt.ErrorIs, ErrSignatureInvalid)

	// a vote signed with the new key and carrying it as the next key
	c.Assert(table.Apply(signedCommand(c, newKey, nil, 1, 1, 7, 2)), qt.IsNil)
	c.Assert(u.Vote(1).Int64(), qt.Equals, int64(7))

	// a vote that also changes the key, verified against the key before it
	other := keys.GenerateKeypair()
	c.Assert(table.Apply(signedCommand(c, newKey, other.PublicKey, 1, 2, 1, 3)), qt.IsNil)
	c.Assert(keys.Equal(u.PublicKey, other.PublicKey), qt.IsTrue)
	c.Assert(u.Vote(2).Int64(), qt.Equals, int64(1))
}

func TestCloneAndRoot(t *testing.T) {
	c := qt.New(t)
	table, users := newTestTable(c, 100, 100)

	root1, err := table.Root()
	c.Assert(err, qt.IsNil)

	clone := table.Clone()
	c.Assert(clone.Apply(signedCommand(c, users[0], nil, 1, 1, 3, 1)), qt.IsNil)

	// the source table is untouched
	u, err := table.User(1)
	c.Assert(err, qt.IsNil)
	c.Assert(u.NextNonce, qt.Equals, uint64(1))
	c.Assert(u.Votes, qt.HasLen, 0)
	root2, err := table.Root()
	c.Assert(err, qt.IsNil)
	c.Assert(root2.Cmp(root1), qt.Equals, 0)

	cloneRoot, err := clone.Root()
	c.Assert(err, qt.IsNil)
	c.Assert(cloneRoot.Cmp(root1), qt.Not(qt.Equals), 0)
	c.Assert(crypto.InField(cloneRoot), qt.IsTrue)
}

func TestUserStateHashCommitsToVotes(t *testing.T) {
	c := qt.New(t)
	key := keys.GenerateKeypair()
	base := NewUserState(&Registration{PublicKey: key.PublicKey, VoiceCredits: big.NewInt(100)})

	empty, err := base.VotesHash()
	c.Assert(err, qt.IsNil)
	c.Assert(empty.Sign(), qt.Equals, 0)

	// same key, balance and nonce, different vote placement
	a := base.Clone()
	a.VoiceCreditBalance.SetInt64(75)
	a.Votes[1] = big.NewInt(5)
	b := a.Clone()
	delete(b.Votes, 1)
	b.Votes[2] = big.NewInt(5)

	ha, err := a.Hash()
	c.Assert(err, qt.IsNil)
	hb, err := b.Hash()
	c.Assert(err, qt.IsNil)
	c.Assert(ha.Cmp(hb), qt.Not(qt.Equals), 0)

	// the commitment does not depend on the map iteration order
	for range 10 {
		again, err := a.Clone().Hash()
		c.Assert(err, qt.IsNil)
		c.Assert(again.Cmp(ha), qt.Equals, 0)
	}

	multi := base.Clone()
	multi.Votes[3] = big.NewInt(2)
	multi.Votes[1] = big.NewInt(4)
	h1, err := multi.VotesHash()
	c.Assert(err, qt.IsNil)
	first, err := poseidon.Hash([]*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(4)})
	c.Assert(err, qt.IsNil)
	expected, err := poseidon.Hash([]*big.Int{first, big.NewInt(3), big.NewInt(2)})
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Cmp(expected), qt.Equals, 0)
}
