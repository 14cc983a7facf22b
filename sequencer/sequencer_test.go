package sequencer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/message"
	"github.com/vocdoni/vocdoni-qf/settlement"
	"github.com/vocdoni/vocdoni-qf/state"
	"github.com/vocdoni/vocdoni-qf/storage"
	"github.com/vocdoni/vocdoni-qf/types"
)

var voiceCreditFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(13), nil)

// tokens returns n/10 units.
func tokens(n int64) *big.Int {
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)
	return v.Mul(v, big.NewInt(n))
}

func newRound(coordinator *keys.Keypair, chainID uint32, votingPeriod time.Duration) *config.Round {
	now := time.Now()
	return &config.Round{
		ID: types.RoundID{
			Address: common.HexToAddress("0x4000000000000000000000000000000000000004"),
			ChainID: chainID,
		},
		CoordinatorPubKey: coordinator.PublicKey,
		MaxRecipients:     2,
		MaxVoiceCredits:   big.NewInt(1000000),
		MatchingPool:      tokens(100),
		VoiceCreditFactor: voiceCreditFactor,
		SignUpDeadline:    now.Add(votingPeriod / 2),
		VotingDeadline:    now.Add(votingPeriod),
	}
}

// populate registers a contributor of 0.5 tokens that votes for both
// recipients and then overwrites the first vote.
func populate(c *qt.C, stg *storage.Storage, r *config.Round, coordinator *keys.Keypair) {
	user := keys.GenerateKeypair()
	credits := new(big.Int).Quo(tokens(5), voiceCreditFactor)
	idx, err := stg.SetRegistration(&r.ID, &state.Registration{PublicKey: user.PublicKey, VoiceCredits: credits})
	c.Assert(err, qt.IsNil)

	vote := func(recipient uint64, voiceCredits int64, nonce uint64) *message.Message {
		msg, _, err := message.CreateMessage(idx, user, nil, coordinator.PublicKey, recipient, big.NewInt(voiceCredits), nonce, nil)
		c.Assert(err, qt.IsNil)
		return msg
	}
	_, err = stg.PushMessageBatch(&r.ID, []*message.Message{vote(1, 10000, 1), vote(2, 10000, 2)})
	c.Assert(err, qt.IsNil)
	_, err = stg.PushMessageBatch(&r.ID, []*message.Message{vote(1, 40000, 3)})
	c.Assert(err, qt.IsNil)
}

func waitUntil(deadline time.Time) {
	time.Sleep(time.Until(deadline) + 50*time.Millisecond)
}

func TestFinalizePending(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))
	coordinator := keys.GenerateKeypair()
	s, err := New(stg, coordinator, time.Second, 2)
	c.Assert(err, qt.IsNil)

	own := newRound(coordinator, 1, time.Second)
	c.Assert(stg.SetRound(own), qt.IsNil)
	foreign := newRound(keys.GenerateKeypair(), 2, time.Second)
	c.Assert(stg.SetRound(foreign), qt.IsNil)
	populate(c, stg, own, coordinator)

	// nothing to do until the voting period is over
	n, err := s.FinalizePending(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 0)

	waitUntil(own.VotingDeadline)
	n, err = s.FinalizePending(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)

	status, _, err := stg.RoundStatus(&own.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, storage.RoundStatusFinalized)
	status, _, err = stg.RoundStatus(&foreign.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, storage.RoundStatusActive)

	res, err := stg.Results(&own.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(res.AppliedMessages, qt.Equals, uint64(3))
	c.Assert(res.DiscardedMessages, qt.Equals, uint64(0))
	c.Assert(res.Claims[1].MathBigInt().String(), qt.Equals, "7066666666666666666")
	c.Assert(res.Claims[2].MathBigInt().String(), qt.Equals, "3433333333333333333")
	roundHash, err := own.Hash()
	c.Assert(err, qt.IsNil)
	c.Assert(res.RoundHash.String(), qt.Equals, roundHash.String())

	// the state root of the round commits to the final state, not the
	// signup one
	signUpRoot, err := stg.SignUpRoot(&own.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(res.StateRoot.MathBigInt().Cmp(signUpRoot), qt.Not(qt.Equals), 0)

	// every claim can be verified against the stored commitments
	stored := res.Settlement()
	for r := uint64(1); r <= own.MaxRecipients; r++ {
		cd, err := stored.ClaimData(r)
		c.Assert(err, qt.IsNil)
		c.Assert(settlement.VerifyClaimData(cd, stored.Commitments), qt.IsNil)
	}

	// rounds are finalized only once
	n, err = s.FinalizePending(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 0)
}

// undecodableKey returns a public key whose compressed form does not
// decompress to a curve point.
func undecodableKey() *babyjub.PublicKey {
	for y := int64(2); ; y++ {
		pub := &babyjub.PublicKey{X: big.NewInt(1), Y: big.NewInt(y)}
		comp := pub.Compress()
		if _, err := comp.Decompress(); err != nil {
			return pub
		}
	}
}

func TestFinalizeWithUndecodableMessage(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))
	coordinator := keys.GenerateKeypair()
	s, err := New(stg, coordinator, time.Second, 2)
	c.Assert(err, qt.IsNil)

	r := newRound(coordinator, 3, time.Second)
	c.Assert(stg.SetRound(r), qt.IsNil)
	user := keys.GenerateKeypair()
	idx, err := stg.SetRegistration(&r.ID, &state.Registration{PublicKey: user.PublicKey, VoiceCredits: big.NewInt(100)})
	c.Assert(err, qt.IsNil)
	valid, _, err := message.CreateMessage(idx, user, nil, coordinator.PublicKey, 1, big.NewInt(100), 1, nil)
	c.Assert(err, qt.IsNil)
	bad := &message.Message{Data: valid.Data, EncPubKey: undecodableKey()}
	_, err = stg.PushMessageBatch(&r.ID, []*message.Message{bad, valid})
	c.Assert(err, qt.IsNil)

	waitUntil(r.VotingDeadline)
	n, err := s.FinalizePending(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)

	// only the message with the bad key is discarded
	res, err := stg.Results(&r.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(res.AppliedMessages, qt.Equals, uint64(1))
	c.Assert(res.DiscardedMessages, qt.Equals, uint64(1))
	c.Assert(res.Results[1].MathBigInt().Int64(), qt.Equals, int64(10))
}

func TestStartStop(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))
	coordinator := keys.GenerateKeypair()
	s, err := New(stg, coordinator, 100*time.Millisecond, 0)
	c.Assert(err, qt.IsNil)

	r := newRound(coordinator, 1, time.Second)
	c.Assert(stg.SetRound(r), qt.IsNil)
	populate(c, stg, r, coordinator)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.Assert(s.Start(ctx), qt.IsNil)
	c.Assert(s.Start(ctx), qt.IsNotNil)
	defer func() { c.Assert(s.Stop(), qt.IsNil) }()

	for {
		status, _, err := stg.RoundStatus(&r.ID)
		c.Assert(err, qt.IsNil)
		if status == storage.RoundStatusFinalized {
			break
		}
		select {
		case <-ctx.Done():
			c.Fatal("round not finalized in time")
		case <-time.After(100 * time.Millisecond):
		}
	}
	_, err = stg.Results(&r.ID)
	c.Assert(err, qt.IsNil)
}

func TestNew(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))
	_, err := New(nil, keys.GenerateKeypair(), time.Second, 1)
	c.Assert(err, qt.IsNotNil)
	_, err = New(stg, nil, time.Second, 1)
	c.Assert(err, qt.IsNotNil)
	_, err = New(stg, keys.GenerateKeypair(), 0, 1)
	c.Assert(err, qt.IsNotNil)
}
