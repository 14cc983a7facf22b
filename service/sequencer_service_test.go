package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/message"
	"github.com/vocdoni/vocdoni-qf/state"
	"github.com/vocdoni/vocdoni-qf/storage"
)

func TestSequencerService(t *testing.T) {
	c := qt.New(t)

	stg := storage.New(metadb.NewTest(t))
	coordinator := keys.GenerateKeypair()

	r := testRound(coordinator, 1)
	now := time.Now()
	r.SignUpDeadline = now.Add(300 * time.Millisecond)
	r.VotingDeadline = now.Add(600 * time.Millisecond)
	c.Assert(stg.SetRound(r), qt.IsNil)

	user := keys.GenerateKeypair()
	idx, err := stg.SetRegistration(&r.ID, &state.Registration{PublicKey: user.PublicKey, VoiceCredits: big.NewInt(100)})
	c.Assert(err, qt.IsNil)
	msg, _, err := message.CreateMessage(idx, user, nil, coordinator.PublicKey, 3, big.NewInt(100), 1, nil)
	c.Assert(err, qt.IsNil)
	_, err = stg.PushMessageBatch(&r.ID, []*message.Message{msg})
	c.Assert(err, qt.IsNil)

	_, err = NewSequencer(stg, nil, time.Second, 2, nil)
	c.Assert(err, qt.IsNotNil)

	ss, err := NewSequencer(stg, coordinator, 100*time.Millisecond, 2, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(ss.Start(context.Background()), qt.IsNil)
	defer ss.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		res, err := stg.Results(&r.ID)
		if err == nil {
			c.Assert(res.AppliedMessages, qt.Equals, uint64(1))
			c.Assert(res.Claims[3].MathBigInt().Sign(), qt.Equals, 1)
			break
		}
		select {
		case <-ctx.Done():
			c.Fatalf("round not finalized: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}
	status, _, err := stg.RoundStatus(&r.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, storage.RoundStatusFinalized)

	// nothing left to finalize
	n, err := ss.FinalizeNow(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 0)
}
