// Package signup keeps a persistent Merkle tree of the registrations of every
// round. The leaves are the initial states of the contributors, so the root
// of a complete signup tree is the state root the coordinator starts from.
package signup

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/vocdoni/arbo"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/vocdoni/vocdoni-qf/log"
	"github.com/vocdoni/vocdoni-qf/types"
)

const (
	signUpTreePrefix      = "st_"
	signUpReferencePrefix = "sr_"
)

var (
	// ErrTreeNotFound is returned when a signup tree is not found in the
	// database.
	ErrTreeNotFound = fmt.Errorf("signup tree not found in the local database")
	// ErrLeafNotFound is returned when a state index is not in the tree.
	ErrLeafNotFound = fmt.Errorf("leaf not found")

	hashFunction = arbo.HashFunctionPoseidon

	// treeNamespace derives the tree identifiers from the round identifiers.
	treeNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("vocdoni-qf/signup"))
)

// TreeID returns the identifier of the signup tree of a round.
func TreeID(roundID *types.RoundID) uuid.UUID {
	return uuid.NewSHA1(treeNamespace, roundID.Marshal())
}

// SignUpDB is a safe and persistent database of signup trees, one per round.
type SignUpDB struct {
	mu     sync.RWMutex
	db     db.Database
	loaded map[uuid.UUID]*Tree
}

// NewSignUpDB creates a new SignUpDB object.
func NewSignUpDB(db db.Database) *SignUpDB {
	return &SignUpDB{
		db:     db,
		loaded: make(map[uuid.UUID]*Tree),
	}
}

// Exists returns true if the round has a signup tree.
func (s *SignUpDB) Exists(roundID *types.RoundID) bool {
	id := TreeID(roundID)
	s.mu.RLock()
	_, exists := s.loaded[id]
	s.mu.RUnlock()
	if exists {
		return true
	}
	_, err := s.db.Get(referenceKey(id))
	return err == nil
}

// Load returns the signup tree of the round, from memory or from the
// persistent database. It returns ErrTreeNotFound if the tree was never
// created.
func (s *SignUpDB) Load(roundID *types.RoundID) (*Tree, error) {
	return s.load(roundID, false)
}

// LoadOrCreate returns the signup tree of the round, creating an empty one
// if it does not exist yet.
func (s *SignUpDB) LoadOrCreate(roundID *types.RoundID) (*Tree, error) {
	return s.load(roundID, true)
}

// load gets a tree from memory or the persistent DB using a double-check.
func (s *SignUpDB) load(roundID *types.RoundID, create bool) (*Tree, error) {
	id := TreeID(roundID)
	s.mu.RLock()
	if t, exists := s.loaded[id]; exists {
		s.mu.RUnlock()
		return t, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, exists := s.loaded[id]; exists {
		return t, nil
	}

	ref := &treeReference{}
	data, err := s.db.Get(referenceKey(id))
	switch {
	case err == nil:
		if err := cbor.Unmarshal(data, ref); err != nil {
			return nil, fmt.Errorf("decode signup tree reference: %w", err)
		}
	case errors.Is(err, db.ErrKeyNotFound) && create:
		ref = &treeReference{
			ID:        id,
			Round:     roundID.Marshal(),
			MaxLevels: types.StateTreeMaxLevels,
			Created:   time.Now(),
		}
		if err := s.writeReference(ref); err != nil {
			return nil, err
		}
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, roundID)
	default:
		return nil, err
	}

	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(s.db, treePrefix(id)),
		MaxLevels:    ref.MaxLevels,
		HashFunction: hashFunction,
	})
	if err != nil {
		return nil, err
	}
	t := &Tree{ID: ref.ID, Round: *roundID, tree: tree}
	s.loaded[id] = t
	return t, nil
}

// Del removes the signup tree of a round from the database and memory.
func (s *SignUpDB) Del(roundID *types.RoundID) error {
	id := TreeID(roundID)
	wtx := s.db.WriteTx()
	if err := wtx.Delete(referenceKey(id)); err != nil {
		wtx.Discard()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.loaded, id)
	s.mu.Unlock()

	n, err := deleteTreeFromDatabase(s.db, treePrefix(id))
	if err != nil {
		return fmt.Errorf("delete signup tree: %w", err)
	}
	log.Debugw("signup tree deleted", "round", roundID.String(), "keys", n)
	return nil
}

// treeReference is the persistent description of a signup tree.
type treeReference struct {
	ID        uuid.UUID      `cbor:"0,keyasint"`
	Round     types.HexBytes `cbor:"1,keyasint"`
	MaxLevels int            `cbor:"2,keyasint"`
	Created   time.Time      `cbor:"3,keyasint"`
}

// writeReference writes a tree reference to the database.
func (s *SignUpDB) writeReference(ref *treeReference) error {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return err
	}
	data, err := em.Marshal(ref)
	if err != nil {
		return err
	}
	wtx := s.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(referenceKey(ref.ID), data); err != nil {
		return err
	}
	return wtx.Commit()
}

// deleteTreeFromDatabase removes all keys belonging to a tree from the
// database.
func deleteTreeFromDatabase(kv db.Database, prefix []byte) (int, error) {
	database := prefixeddb.NewPrefixedDatabase(kv, prefix)
	wtx := database.WriteTx()
	defer wtx.Discard()
	count := 0
	err := database.Iterate(nil, func(k, _ []byte) bool {
		if err := wtx.Delete(k); err != nil {
			log.Warnw("could not remove key from database", "key", fmt.Sprintf("%x", k))
		} else {
			count++
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return count, wtx.Commit()
}

func referenceKey(id uuid.UUID) []byte {
	return append([]byte(signUpReferencePrefix), id[:]...)
}

func treePrefix(id uuid.UUID) []byte {
	return append([]byte(signUpTreePrefix), id[:]...)
}
