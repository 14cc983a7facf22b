package storage

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/state"
	"github.com/vocdoni/vocdoni-qf/storage/signup"
	"github.com/vocdoni/vocdoni-qf/tally"
	"github.com/vocdoni/vocdoni-qf/types"
)

// Registration is the stored form of a state.Registration.
type Registration struct {
	PublicKey    types.HexBytes `json:"publicKey" cbor:"0,keyasint"`
	VoiceCredits *types.BigInt  `json:"voiceCredits" cbor:"1,keyasint"`
}

// NewRegistration returns the stored form of the registration.
func NewRegistration(reg *state.Registration) *Registration {
	comp := reg.PublicKey.Compress()
	return &Registration{
		PublicKey:    comp[:],
		VoiceCredits: types.NewBigInt(reg.VoiceCredits),
	}
}

// Registration returns the state.Registration of the stored one.
func (r *Registration) Registration() (*state.Registration, error) {
	var comp babyjub.PublicKeyComp
	if len(r.PublicKey) != len(comp) {
		return nil, fmt.Errorf("invalid public key length %d", len(r.PublicKey))
	}
	copy(comp[:], r.PublicKey)
	pub, err := comp.Decompress()
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	if r.VoiceCredits == nil {
		return nil, fmt.Errorf("missing voice credits")
	}
	return &state.Registration{
		PublicKey:    pub,
		VoiceCredits: new(big.Int).Set(r.VoiceCredits.MathBigInt()),
	}, nil
}

// SetRegistration stores the registration of a contributor in the round and
// returns its state index. State indexes are assigned in registration order
// starting at 1. It returns ErrSignUpClosed once the signup deadline is over.
func (s *Storage) SetRegistration(id *types.RoundID, reg *state.Registration) (uint64, error) {
	if reg == nil {
		return 0, fmt.Errorf("nil registration")
	}
	if err := keys.ValidatePublicKey(reg.PublicKey); err != nil {
		return 0, err
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	r, err := s.activeRound(id, func(r *config.Round) time.Time { return r.SignUpDeadline }, ErrSignUpClosed)
	if err != nil {
		return 0, err
	}
	if reg.VoiceCredits == nil || reg.VoiceCredits.Sign() < 0 || reg.VoiceCredits.Cmp(r.MaxVoiceCredits) > 0 {
		return 0, fmt.Errorf("voice credits %v out of range [0, %s]", reg.VoiceCredits, r.MaxVoiceCredits)
	}
	prefix := append(append([]byte{}, registrationPrefix...), id.Marshal()...)
	count, err := s.countArtifacts(prefix)
	if err != nil {
		return 0, err
	}
	index := count + 1
	tree, err := s.signUps.LoadOrCreate(id)
	if err != nil {
		return 0, fmt.Errorf("load signup tree: %w", err)
	}
	if err := tree.Add(index, reg); err != nil {
		return 0, fmt.Errorf("add to signup tree: %w", err)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := setArtifactTx(wTx, seqKey(nil, index), NewRegistration(reg)); err != nil {
		wTx.Discard()
		return 0, err
	}
	if err := wTx.Commit(); err != nil {
		return 0, err
	}
	return index, nil
}

// Registrations returns the registrations of the round ordered by state
// index.
func (s *Storage) Registrations(id *types.RoundID) ([]*state.Registration, error) {
	prefix := append(append([]byte{}, registrationPrefix...), id.Marshal()...)
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	var regs []*state.Registration
	var decodeErr error
	if err := rd.Iterate(nil, func(k, v []byte) bool {
		stored := &Registration{}
		if err := decodeArtifact(v, stored); err != nil {
			decodeErr = fmt.Errorf("decode registration %x: %w", k, err)
			return false
		}
		reg, err := stored.Registration()
		if err != nil {
			decodeErr = fmt.Errorf("registration %x: %w", k, err)
			return false
		}
		regs = append(regs, reg)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return regs, nil
}

// SignUpRoot returns the root of the signup tree of the round, which commits
// to the initial state of every registered contributor.
func (s *Storage) SignUpRoot(id *types.RoundID) (*big.Int, error) {
	tree, err := s.signUps.LoadOrCreate(id)
	if err != nil {
		return nil, err
	}
	return tree.Root()
}

// SignUpProof returns the inclusion proof of the registration with the state
// index in the signup tree of the round.
func (s *Storage) SignUpProof(id *types.RoundID, index uint64) (*tally.ArboProof, error) {
	tree, err := s.signUps.Load(id)
	if err != nil {
		if errors.Is(err, signup.ErrTreeNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	proof, err := tree.GenProof(index)
	if errors.Is(err, signup.ErrLeafNotFound) {
		return nil, ErrNotFound
	}
	return proof, err
}
