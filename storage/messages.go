package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/message"
	"github.com/vocdoni/vocdoni-qf/types"
)

// MessageBatch is a group of messages received together. Batches are
// numbered in arrival order.
type MessageBatch struct {
	ID        uuid.UUID          `cbor:"0,keyasint"`
	Seq       uint64             `cbor:"1,keyasint"`
	Messages  []*message.Message `cbor:"2,keyasint"`
	Timestamp time.Time          `cbor:"3,keyasint"`
}

func messageBatchPrefixFor(id *types.RoundID) []byte {
	return append(append([]byte{}, messageBatchPrefix...), id.Marshal()...)
}

// PushMessageBatch appends the messages to the message log of the round and
// returns the identifier of the batch. It returns ErrVotingClosed once the
// voting deadline is over or the round is no longer active.
func (s *Storage) PushMessageBatch(id *types.RoundID, msgs []*message.Message) (uuid.UUID, error) {
	if len(msgs) == 0 {
		return uuid.Nil, fmt.Errorf("empty message batch")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if _, err := s.activeRound(id, func(r *config.Round) time.Time { return r.VotingDeadline }, ErrVotingClosed); err != nil {
		return uuid.Nil, err
	}
	prefix := messageBatchPrefixFor(id)
	count, err := s.countArtifacts(prefix)
	if err != nil {
		return uuid.Nil, err
	}
	batch := &MessageBatch{
		ID:        uuid.New(),
		Seq:       count + 1,
		Messages:  msgs,
		Timestamp: s.now(),
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := setArtifactTx(wTx, seqKey(nil, batch.Seq), batch); err != nil {
		wTx.Discard()
		return uuid.Nil, fmt.Errorf("store message batch: %w", err)
	}
	if err := wTx.Commit(); err != nil {
		return uuid.Nil, err
	}
	return batch.ID, nil
}

// MessageBatch returns the batch with the sequence number of the round. It
// returns ErrNoMoreElements if there is no such batch.
func (s *Storage) MessageBatch(id *types.RoundID, seq uint64) (*MessageBatch, error) {
	batch := &MessageBatch{}
	if err := s.getArtifact(messageBatchPrefixFor(id), seqKey(nil, seq), batch); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoMoreElements
		}
		return nil, err
	}
	return batch, nil
}

// CountMessageBatches returns the number of message batches of the round.
func (s *Storage) CountMessageBatches(id *types.RoundID) (uint64, error) {
	return s.countArtifacts(messageBatchPrefixFor(id))
}

// Messages returns every message of the round in submission order.
func (s *Storage) Messages(id *types.RoundID) ([]*message.Message, error) {
	var msgs []*message.Message
	for seq := uint64(1); ; seq++ {
		batch, err := s.MessageBatch(id, seq)
		if errors.Is(err, ErrNoMoreElements) {
			return msgs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("message batch %d: %w", seq, err)
		}
		msgs = append(msgs, batch.Messages...)
	}
}
