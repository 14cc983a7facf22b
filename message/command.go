// Package message builds, signs, encrypts and opens the commands that
// contributors send to the round coordinator.
package message

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/vocdoni-qf/crypto"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/types"
)

// Command is the plaintext instruction of a contributor. It votes for a
// recipient (overwriting any previous vote of the same user for it) and sets
// the public key that must sign the next command. A command addressed to
// types.NoRecipient casts no vote and only updates the key.
type Command struct {
	StateIndex     uint64
	NewPublicKey   *babyjub.PublicKey
	RecipientIndex uint64
	Weight         *big.Int
	Nonce          uint64
	Salt           *big.Int
}

// IsVote returns true if the command sets the vote for a recipient.
func (c *Command) IsVote() bool {
	return c.RecipientIndex != types.NoRecipient
}

// Hash returns the Poseidon hash of the command fields, the value signed by
// the author.
func (c *Command) Hash() (*big.Int, error) {
	if c.NewPublicKey == nil || c.Weight == nil || c.Salt == nil {
		return nil, fmt.Errorf("incomplete command")
	}
	if !crypto.InField(c.Weight) || !crypto.InField(c.Salt) {
		return nil, crypto.ErrArithmeticOverflow
	}
	return poseidon.Hash([]*big.Int{
		new(big.Int).SetUint64(c.StateIndex),
		c.NewPublicKey.X,
		c.NewPublicKey.Y,
		new(big.Int).SetUint64(c.RecipientIndex),
		c.Weight,
		new(big.Int).SetUint64(c.Nonce),
		c.Salt,
	})
}

// Sign signs the command hash with the keypair provided.
func (c *Command) Sign(k *keys.Keypair) (*babyjub.Signature, error) {
	h, err := c.Hash()
	if err != nil {
		return nil, fmt.Errorf("cannot hash command: %w", err)
	}
	return k.Sign(h), nil
}

// Verify returns true if sig is a valid signature of the command by pubKey.
func (c *Command) Verify(pubKey *babyjub.PublicKey, sig *babyjub.Signature) bool {
	if pubKey == nil || sig == nil || sig.R8 == nil || sig.S == nil {
		return false
	}
	if !sig.R8.InCurve() {
		return false
	}
	h, err := c.Hash()
	if err != nil {
		return false
	}
	return pubKey.VerifyPoseidon(h, sig)
}

// plaintext returns the field elements encrypted in a message: the
// signature followed by the command.
func (c *Command) plaintext(sig *babyjub.Signature) []*big.Int {
	return []*big.Int{
		sig.R8.X,
		sig.R8.Y,
		sig.S,
		new(big.Int).SetUint64(c.StateIndex),
		c.NewPublicKey.X,
		c.NewPublicKey.Y,
		new(big.Int).SetUint64(c.RecipientIndex),
		c.Weight,
		new(big.Int).SetUint64(c.Nonce),
		c.Salt,
	}
}

// plaintextLen is the number of elements of a message plaintext.
const plaintextLen = 10

// parsePlaintext is the inverse of plaintext.
func parsePlaintext(pt []*big.Int) (*Command, *babyjub.Signature, error) {
	if len(pt) != plaintextLen {
		return nil, nil, fmt.Errorf("%w: plaintext has %d elements", ErrMalformedMessage, len(pt))
	}
	uints := make([]uint64, 0, 3)
	for _, i := range []int{3, 6, 8} {
		if !pt[i].IsUint64() {
			return nil, nil, fmt.Errorf("%w: element %d is not an integer index", ErrMalformedMessage, i)
		}
		uints = append(uints, pt[i].Uint64())
	}
	newPubKey := &babyjub.PublicKey{X: pt[4], Y: pt[5]}
	if err := keys.ValidatePublicKey(newPubKey); err != nil {
		return nil, nil, fmt.Errorf("%w: new public key: %v", ErrMalformedMessage, err)
	}
	cmd := &Command{
		StateIndex:     uints[0],
		NewPublicKey:   newPubKey,
		RecipientIndex: uints[1],
		Weight:         pt[7],
		Nonce:          uints[2],
		Salt:           pt[9],
	}
	sig := &babyjub.Signature{
		R8: &babyjub.Point{X: pt[0], Y: pt[1]},
		S:  pt[2],
	}
	return cmd, sig, nil
}
