// storage package contains all the artifacts of the funding rounds that are
// stored in the database. It is also the ordered log of the messages sent by
// the contributors, consumed by the coordinator once a round is over. The
// following prefixes are used:
//   - 'r/' for rounds
//   - 'rs/' for round status
//   - 'rg/' for registrations (by round and state index)
//   - 'mb/' for message batches (by round and sequence number)
//   - 'res/' for round results
//   - 'su/' for the signup trees (see the signup package)
//
// Registrations and message batches are kept in submission order, which is
// the order the coordinator must process them.
package storage

import (
	"errors"
	"sync"
	"time"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/vocdoni/vocdoni-qf/storage/signup"
)

var (
	// Prefixes for the keys in the database.
	roundPrefix        = []byte("r/")
	roundStatusPrefix  = []byte("rs/")
	registrationPrefix = []byte("rg/")
	messageBatchPrefix = []byte("mb/")
	resultsPrefix      = []byte("res/")
	signUpPrefix       = []byte("su/")
)

var (
	// ErrNotFound is returned when an artifact is not found in the storage.
	ErrNotFound = errors.New("not found")
	// ErrNoMoreElements is returned when a queue has no more elements.
	ErrNoMoreElements = errors.New("no more elements")
	// ErrAlreadyExists is returned when an artifact that cannot be replaced
	// is stored again.
	ErrAlreadyExists = errors.New("already exists")
	// ErrSignUpClosed is returned when a registration arrives after the
	// signup deadline of the round.
	ErrSignUpClosed = errors.New("signup period is over")
	// ErrVotingClosed is returned when messages arrive after the voting
	// deadline of the round, or once the round is finalized.
	ErrVotingClosed = errors.New("voting period is over")
)

// Storage wraps the database with the methods to store and retrieve the
// round artifacts.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex
	signUps    *signup.SignUpDB
	// now returns the current time, replaced in tests.
	now func() time.Time
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{
		db:      db,
		signUps: signup.NewSignUpDB(prefixeddb.NewPrefixedDatabase(db, signUpPrefix)),
		now:     time.Now,
	}
}

// Close closes the storage.
func (s *Storage) Close() {
	s.db.Close()
}
