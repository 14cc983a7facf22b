package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// RoundIDLen is the length in bytes of a marshaled RoundID.
const RoundIDLen = 24

// RoundID identifies a funding round. It is composed of:
// - ChainID (4 bytes)
// - Address (20 bytes), the funding round contract
type RoundID struct {
	Address common.Address
	ChainID uint32
}

// Marshal encodes RoundID to bytes.
func (r *RoundID) Marshal() []byte {
	chainID := make([]byte, 4)
	binary.BigEndian.PutUint32(chainID, r.ChainID)

	var id bytes.Buffer
	id.Write(chainID)
	id.Write(r.Address.Bytes())
	return id.Bytes()
}

// Unmarshal decodes bytes to RoundID.
func (r *RoundID) Unmarshal(data []byte) error {
	if len(data) != RoundIDLen {
		return fmt.Errorf("invalid RoundID length: %d", len(data))
	}
	r.ChainID = binary.BigEndian.Uint32(data[:4])
	r.Address = common.BytesToAddress(data[4:RoundIDLen])
	return nil
}

// SetBytes decodes bytes to RoundID and returns it. Invalid input is ignored
// and leaves the receiver untouched.
func (r *RoundID) SetBytes(data []byte) *RoundID {
	_ = r.Unmarshal(data)
	return r
}

// MarshalBinary implements the BinaryMarshaler interface
func (r *RoundID) MarshalBinary() (data []byte, err error) {
	return r.Marshal(), nil
}

// UnmarshalBinary implements the BinaryUnmarshaler interface
func (r *RoundID) UnmarshalBinary(data []byte) error {
	return r.Unmarshal(data)
}

// String returns a human readable representation of round ID
func (r *RoundID) String() string {
	return hex.EncodeToString(r.Marshal())
}

// ParseRoundID decodes the hex representation returned by String.
func ParseRoundID(s string) (*RoundID, error) {
	data, err := HexStringToHexBytes(s)
	if err != nil {
		return nil, fmt.Errorf("invalid round ID hex: %w", err)
	}
	r := new(RoundID)
	if err := r.Unmarshal(data); err != nil {
		return nil, err
	}
	return r, nil
}
