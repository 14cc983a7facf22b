// Package secies implements a symmetric cipher for vectors of BN254 field
// elements keyed by an elliptic curve Diffie-Hellman shared point. Each
// element is masked with a Poseidon keystream and the ciphertext carries a
// Poseidon authentication tag as its last element.
package secies

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/vocdoni-qf/crypto"
	multiposeidon "github.com/vocdoni/vocdoni-qf/crypto/hash/poseidon"
)

// MaxPlaintextLen is the maximum number of elements of a plaintext, bounded
// by the inputs accepted by the tag hash.
const MaxPlaintextLen = 255

var (
	// ErrInvalidCiphertext is returned when the ciphertext has a wrong length
	// or contains values outside the field.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrAuthentication is returned when the ciphertext tag does not match,
	// either because it was modified or because the key is wrong.
	ErrAuthentication = errors.New("ciphertext authentication failed")
)

// domain separators of the keystream and the tag
var (
	streamDomain = big.NewInt(1)
	tagDomain    = big.NewInt(2)
)

// Cipher encapsulates encryption and decryption of field element vectors
// under a shared point.
type Cipher struct {
	key *babyjub.Point
}

// New returns a Cipher keyed with the shared point provided.
func New(shared *babyjub.Point) (*Cipher, error) {
	if shared == nil || shared.X == nil || shared.Y == nil {
		return nil, fmt.Errorf("shared key cannot be nil")
	}
	return &Cipher{key: shared}, nil
}

// Encrypt masks every element of the plaintext and appends the tag. The
// elements must be in the field, they are not reduced.
func (c *Cipher) Encrypt(plaintext []*big.Int) ([]*big.Int, error) {
	if len(plaintext) == 0 || len(plaintext) > MaxPlaintextLen {
		return nil, fmt.Errorf("invalid plaintext length %d", len(plaintext))
	}
	ciphertext := make([]*big.Int, 0, len(plaintext)+1)
	for i, m := range plaintext {
		if !crypto.InField(m) {
			return nil, fmt.Errorf("plaintext element %d: %w", i, crypto.ErrArithmeticOverflow)
		}
		s, err := c.keystream(i)
		if err != nil {
			return nil, err
		}
		// c_i = m_i + s_i mod Q
		var e fr.Element
		e.SetBigInt(m)
		e.Add(&e, s)
		ciphertext = append(ciphertext, e.BigInt(new(big.Int)))
	}
	tag, err := c.tag(ciphertext)
	if err != nil {
		return nil, err
	}
	return append(ciphertext, tag), nil
}

// Decrypt checks the ciphertext tag and recovers the plaintext.
func (c *Cipher) Decrypt(ciphertext []*big.Int) ([]*big.Int, error) {
	if len(ciphertext) < 2 || len(ciphertext) > MaxPlaintextLen+1 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidCiphertext, len(ciphertext))
	}
	for i, v := range ciphertext {
		if !crypto.InField(v) {
			return nil, fmt.Errorf("%w: element %d out of field", ErrInvalidCiphertext, i)
		}
	}
	body := ciphertext[:len(ciphertext)-1]
	tag, err := c.tag(body)
	if err != nil {
		return nil, err
	}
	if tag.Cmp(ciphertext[len(ciphertext)-1]) != 0 {
		return nil, ErrAuthentication
	}
	plaintext := make([]*big.Int, 0, len(body))
	for i, v := range body {
		s, err := c.keystream(i)
		if err != nil {
			return nil, err
		}
		// m_i = c_i - s_i mod Q
		var e fr.Element
		e.SetBigInt(v)
		e.Sub(&e, s)
		plaintext = append(plaintext, e.BigInt(new(big.Int)))
	}
	return plaintext, nil
}

// keystream returns the mask of the i-th element.
func (c *Cipher) keystream(i int) (*fr.Element, error) {
	h, err := poseidon.Hash([]*big.Int{streamDomain, c.key.X, c.key.Y, big.NewInt(int64(i))})
	if err != nil {
		return nil, fmt.Errorf("cannot derive keystream: %w", err)
	}
	var e fr.Element
	e.SetBigInt(h)
	return &e, nil
}

// tag binds the key, the length and every element of the masked body.
func (c *Cipher) tag(body []*big.Int) (*big.Int, error) {
	digest, err := multiposeidon.MultiPoseidon(body...)
	if err != nil {
		return nil, fmt.Errorf("cannot hash ciphertext: %w", err)
	}
	return poseidon.Hash([]*big.Int{tagDomain, c.key.X, c.key.Y, big.NewInt(int64(len(body))), digest})
}
