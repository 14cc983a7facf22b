package storage

import (
	"errors"
	"fmt"

	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/vocdoni/vocdoni-qf/types"
)

// SetResults stores the results of an active round and marks it as
// finalized, in a single write. A round is finalized only once, it returns
// ErrAlreadyExists if the round already has results.
func (s *Storage) SetResults(id *types.RoundID, res *RoundResults) error {
	if res == nil {
		return fmt.Errorf("nil results")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	key := id.Marshal()
	if err := s.getArtifact(resultsPrefix, key, &RoundResults{}); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	st := &roundStatus{}
	if err := s.getArtifact(roundStatusPrefix, key, st); err != nil {
		return err
	}
	if st.Status != RoundStatusActive {
		return fmt.Errorf("round %s is %s", id, st.Status)
	}
	if res.FinalizedAt.IsZero() {
		res.FinalizedAt = s.now()
	}

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if err := setArtifactTx(prefixeddb.NewPrefixedWriteTx(wTx, resultsPrefix), key, res); err != nil {
		return fmt.Errorf("store results: %w", err)
	}
	if err := setArtifactTx(prefixeddb.NewPrefixedWriteTx(wTx, roundStatusPrefix), key,
		&roundStatus{Status: RoundStatusFinalized}); err != nil {
		return fmt.Errorf("store round status: %w", err)
	}
	return wTx.Commit()
}

// Results returns the results of a finalized round. It returns ErrNotFound
// if the round has no results.
func (s *Storage) Results(id *types.RoundID) (*RoundResults, error) {
	res := &RoundResults{}
	if err := s.getArtifact(resultsPrefix, id.Marshal(), res); err != nil {
		return nil, err
	}
	return res, nil
}
