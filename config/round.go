// Package config defines the parameters of a funding round.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/iden3/go-iden3-crypto/babyjub"

	"github.com/vocdoni/vocdoni-qf/crypto"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/types"
)

// ErrInvalidRound is returned when the round parameters are not valid. A
// round with invalid parameters is never processed.
var ErrInvalidRound = errors.New("invalid round configuration")

// Round holds the parameters of a funding round. Once validated it must be
// treated as immutable.
type Round struct {
	ID                types.RoundID
	CoordinatorPubKey *babyjub.PublicKey
	// MaxRecipients is the highest valid recipient index.
	MaxRecipients uint64
	// MaxVoiceCredits bounds the voice credits of a single contributor.
	MaxVoiceCredits *big.Int
	// MaxVoteWeight bounds the weight of a single vote. If nil, the square
	// root of MaxVoiceCredits is used.
	MaxVoteWeight *big.Int
	// MatchingPool is the amount of tokens distributed as matching funds.
	MatchingPool *big.Int
	// VoiceCreditFactor is the number of tokens each voice credit is worth.
	VoiceCreditFactor *big.Int
	SignUpDeadline    time.Time
	VotingDeadline    time.Time
	// Recipients optionally holds the address of every recipient, the
	// element i is the address of the recipient i+1.
	Recipients []common.Address
}

// Validate checks the round parameters and fills the defaults.
func (r *Round) Validate() error {
	if err := keys.ValidatePublicKey(r.CoordinatorPubKey); err != nil {
		return fmt.Errorf("%w: coordinator key: %v", ErrInvalidRound, err)
	}
	if r.MaxRecipients == 0 || r.MaxRecipients >= math.MaxUint32 {
		return fmt.Errorf("%w: max recipients %d", ErrInvalidRound, r.MaxRecipients)
	}
	if uint64(len(r.Recipients)) > r.MaxRecipients {
		return fmt.Errorf("%w: %d recipient addresses for %d recipients",
			ErrInvalidRound, len(r.Recipients), r.MaxRecipients)
	}
	if r.MaxVoiceCredits == nil || r.MaxVoiceCredits.Sign() <= 0 || !crypto.InField(r.MaxVoiceCredits) {
		return fmt.Errorf("%w: max voice credits %v", ErrInvalidRound, r.MaxVoiceCredits)
	}
	if r.MaxVoteWeight == nil {
		r.MaxVoteWeight = crypto.ISqrt(r.MaxVoiceCredits)
	}
	if r.MaxVoteWeight.Sign() < 0 || !crypto.InField(r.MaxVoteWeight) {
		return fmt.Errorf("%w: max vote weight %s", ErrInvalidRound, r.MaxVoteWeight)
	}
	if r.MatchingPool == nil || r.MatchingPool.Sign() < 0 {
		return fmt.Errorf("%w: matching pool %v", ErrInvalidRound, r.MatchingPool)
	}
	if r.VoiceCreditFactor == nil || r.VoiceCreditFactor.Sign() <= 0 {
		return fmt.Errorf("%w: voice credit factor %v", ErrInvalidRound, r.VoiceCreditFactor)
	}
	if r.SignUpDeadline.IsZero() || r.VotingDeadline.IsZero() {
		return fmt.Errorf("%w: missing deadlines", ErrInvalidRound)
	}
	if r.VotingDeadline.Before(r.SignUpDeadline) {
		return fmt.Errorf("%w: voting deadline before signup deadline", ErrInvalidRound)
	}
	return nil
}

// RecipientAddress returns the address of the recipient, or the zero address
// if it is unknown.
func (r *Round) RecipientAddress(recipient uint64) common.Address {
	if recipient == types.NoRecipient || recipient > uint64(len(r.Recipients)) {
		return common.Address{}
	}
	return r.Recipients[recipient-1]
}

// Hash returns the keccak256 hash of the CBOR encoded round, which binds the
// results of a round to its parameters.
func (r *Round) Hash() (types.HexBytes, error) {
	data, err := r.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(data), nil
}

// roundWire is the encoded form of a Round, shared by JSON and CBOR.
type roundWire struct {
	ID                types.HexBytes   `json:"roundId" cbor:"0,keyasint"`
	CoordinatorPubKey string           `json:"coordinatorPubKey" cbor:"1,keyasint"`
	MaxRecipients     uint64           `json:"maxRecipients" cbor:"2,keyasint"`
	MaxVoiceCredits   *types.BigInt    `json:"maxVoiceCredits" cbor:"3,keyasint"`
	MaxVoteWeight     *types.BigInt    `json:"maxVoteWeight,omitempty" cbor:"4,keyasint,omitempty"`
	MatchingPool      *types.BigInt    `json:"matchingPool" cbor:"5,keyasint"`
	VoiceCreditFactor *types.BigInt    `json:"voiceCreditFactor" cbor:"6,keyasint"`
	SignUpDeadline    time.Time        `json:"signUpDeadline" cbor:"7,keyasint"`
	VotingDeadline    time.Time        `json:"votingDeadline" cbor:"8,keyasint"`
	Recipients        []common.Address `json:"recipients,omitempty" cbor:"9,keyasint,omitempty"`
}

func (r *Round) toWire() (*roundWire, error) {
	if r.CoordinatorPubKey == nil {
		return nil, fmt.Errorf("%w: missing coordinator key", ErrInvalidRound)
	}
	w := &roundWire{
		ID:                r.ID.Marshal(),
		CoordinatorPubKey: keys.SerializePublicKey(r.CoordinatorPubKey),
		MaxRecipients:     r.MaxRecipients,
		MaxVoiceCredits:   types.NewBigInt(r.MaxVoiceCredits),
		MatchingPool:      types.NewBigInt(r.MatchingPool),
		VoiceCreditFactor: types.NewBigInt(r.VoiceCreditFactor),
		SignUpDeadline:    r.SignUpDeadline.UTC(),
		VotingDeadline:    r.VotingDeadline.UTC(),
		Recipients:        r.Recipients,
	}
	if r.MaxVoteWeight != nil {
		w.MaxVoteWeight = types.NewBigInt(r.MaxVoteWeight)
	}
	return w, nil
}

func (r *Round) fromWire(w *roundWire) error {
	if err := r.ID.Unmarshal(w.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRound, err)
	}
	pub, err := keys.ParsePublicKey(w.CoordinatorPubKey)
	if err != nil {
		return fmt.Errorf("%w: coordinator key: %v", ErrInvalidRound, err)
	}
	r.CoordinatorPubKey = pub
	r.MaxRecipients = w.MaxRecipients
	r.MaxVoiceCredits = w.MaxVoiceCredits.MathBigInt()
	r.MaxVoteWeight = nil
	if w.MaxVoteWeight != nil {
		r.MaxVoteWeight = w.MaxVoteWeight.MathBigInt()
	}
	r.MatchingPool = w.MatchingPool.MathBigInt()
	r.VoiceCreditFactor = w.VoiceCreditFactor.MathBigInt()
	r.SignUpDeadline = w.SignUpDeadline
	r.VotingDeadline = w.VotingDeadline
	r.Recipients = w.Recipients
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r *Round) MarshalJSON() ([]byte, error) {
	w, err := r.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Round) UnmarshalJSON(data []byte) error {
	var w roundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return r.fromWire(&w)
}

// MarshalCBOR implements cbor.Marshaler.
func (r *Round) MarshalCBOR() ([]byte, error) {
	w, err := r.toWire()
	if err != nil {
		return nil, err
	}
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode round: %w", err)
	}
	return em.Marshal(w)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (r *Round) UnmarshalCBOR(data []byte) error {
	var w roundWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	return r.fromWire(&w)
}

// LoadRound reads a JSON encoded round from the file and validates it.
func LoadRound(path string) (*Round, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read round file: %w", err)
	}
	r := &Round{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRound, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
