package storage

import (
	"errors"
	"fmt"
	"time"

	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/types"
)

// RoundStatus is the processing status of a round.
type RoundStatus uint8

const (
	// RoundStatusActive rounds accept registrations and messages until their
	// deadlines, and wait to be finalized after them.
	RoundStatusActive RoundStatus = iota
	// RoundStatusFinalized rounds have their results stored.
	RoundStatusFinalized
	// RoundStatusFailed rounds could not be finalized.
	RoundStatusFailed
)

// String returns the name of the status.
func (s RoundStatus) String() string {
	switch s {
	case RoundStatusActive:
		return "active"
	case RoundStatusFinalized:
		return "finalized"
	case RoundStatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// roundStatus is the stored status of a round.
type roundStatus struct {
	Status RoundStatus `cbor:"0,keyasint"`
	Error  string      `cbor:"1,keyasint,omitempty"`
}

// SetRound validates and stores a new round. Rounds cannot be replaced, it
// returns ErrAlreadyExists if the round is already stored.
func (s *Storage) SetRound(r *config.Round) error {
	if r == nil {
		return fmt.Errorf("nil round")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	key := r.ID.Marshal()
	if err := s.getArtifact(roundPrefix, key, &config.Round{}); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if err := setArtifactTx(prefixeddb.NewPrefixedWriteTx(wTx, roundPrefix), key, r); err != nil {
		return fmt.Errorf("store round: %w", err)
	}
	if err := setArtifactTx(prefixeddb.NewPrefixedWriteTx(wTx, roundStatusPrefix), key,
		&roundStatus{Status: RoundStatusActive}); err != nil {
		return fmt.Errorf("store round status: %w", err)
	}
	return wTx.Commit()
}

// Round retrieves a round. It returns ErrNotFound if it does not exist.
func (s *Storage) Round(id *types.RoundID) (*config.Round, error) {
	r := &config.Round{}
	if err := s.getArtifact(roundPrefix, id.Marshal(), r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRounds returns the identifiers of every stored round.
func (s *Storage) ListRounds() ([]*types.RoundID, error) {
	keys, err := s.listArtifacts(roundPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]*types.RoundID, 0, len(keys))
	for _, k := range keys {
		id := &types.RoundID{}
		if err := id.Unmarshal(k); err != nil {
			return nil, fmt.Errorf("invalid round key %x: %w", k, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RoundStatus returns the status of the round and, for failed rounds, the
// reason of the failure.
func (s *Storage) RoundStatus(id *types.RoundID) (RoundStatus, string, error) {
	st := &roundStatus{}
	if err := s.getArtifact(roundStatusPrefix, id.Marshal(), st); err != nil {
		return 0, "", err
	}
	return st.Status, st.Error, nil
}

// SetRoundFailed marks an active round as failed. Failed rounds are never
// processed again.
func (s *Storage) SetRoundFailed(id *types.RoundID, reason error) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	st := &roundStatus{}
	if err := s.getArtifact(roundStatusPrefix, id.Marshal(), st); err != nil {
		return err
	}
	if st.Status != RoundStatusActive {
		return fmt.Errorf("round %s is %s", id, st.Status)
	}
	st.Status = RoundStatusFailed
	if reason != nil {
		st.Error = reason.Error()
	}
	return s.setArtifact(roundStatusPrefix, id.Marshal(), st)
}

// PendingRounds returns the active rounds whose voting deadline is over,
// ready to be finalized.
func (s *Storage) PendingRounds() ([]*config.Round, error) {
	ids, err := s.ListRounds()
	if err != nil {
		return nil, err
	}
	now := s.now()
	var pending []*config.Round
	for _, id := range ids {
		status, _, err := s.RoundStatus(id)
		if err != nil {
			return nil, err
		}
		if status != RoundStatusActive {
			continue
		}
		r, err := s.Round(id)
		if err != nil {
			return nil, err
		}
		if now.After(r.VotingDeadline) {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// activeRound returns the round if it is active and the time provided is not
// after the deadline returned by the deadline function. It must be called
// with the global lock held.
func (s *Storage) activeRound(id *types.RoundID, deadline func(*config.Round) time.Time, closed error) (*config.Round, error) {
	r := &config.Round{}
	if err := s.getArtifact(roundPrefix, id.Marshal(), r); err != nil {
		return nil, err
	}
	st := &roundStatus{}
	if err := s.getArtifact(roundStatusPrefix, id.Marshal(), st); err != nil {
		return nil, err
	}
	if st.Status != RoundStatusActive || s.now().After(deadline(r)) {
		return nil, closed
	}
	return r, nil
}
