package state

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"

	"github.com/vocdoni/vocdoni-qf/crypto"
	"github.com/vocdoni/vocdoni-qf/message"
)

// Apply validates the command against the current state of its user and, if
// valid, applies it:
//   - the nonce of the user is incremented
//   - the public key of the user is replaced by the command one
//   - if the command addresses a recipient, its weight replaces the previous
//     vote of the user for it and the voice credit balance is adjusted
//
// An invalid command returns an error and leaves the state untouched.
func (t *Table) Apply(cmd *message.Command, sig *babyjub.Signature) error {
	user, err := t.User(cmd.StateIndex)
	if err != nil {
		return err
	}
	// the signature is checked against the key at the start of this command,
	// so a key change is effective from the next one
	if !cmd.Verify(user.PublicKey, sig) {
		return fmt.Errorf("%w: state index %d", ErrSignatureInvalid, cmd.StateIndex)
	}
	if cmd.Nonce != user.NextNonce {
		return fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, user.NextNonce, cmd.Nonce)
	}
	if cmd.RecipientIndex > t.maxRecipients {
		return fmt.Errorf("%w: %d out of range [1, %d]", ErrInvalidRecipient, cmd.RecipientIndex, t.maxRecipients)
	}
	if !cmd.IsVote() && cmd.Weight.Sign() != 0 {
		return fmt.Errorf("%w: weight %s for no recipient", ErrInvalidRecipient, cmd.Weight)
	}
	if cmd.Weight.Cmp(t.maxVoteWeight) > 0 {
		return fmt.Errorf("%w: weight %s over %s", crypto.ErrArithmeticOverflow, cmd.Weight, t.maxVoteWeight)
	}

	balance := user.VoiceCreditBalance
	if cmd.IsVote() {
		// balance + old^2 - new^2 must not be negative
		old := user.Vote(cmd.RecipientIndex)
		balance = new(big.Int).Mul(old, old)
		balance.Add(balance, user.VoiceCreditBalance)
		balance.Sub(balance, new(big.Int).Mul(cmd.Weight, cmd.Weight))
		if balance.Sign() < 0 {
			return fmt.Errorf("%w: balance %s, weight %s", ErrInsufficientCredits, user.VoiceCreditBalance, cmd.Weight)
		}
	}

	user.NextNonce++
	user.PublicKey = cmd.NewPublicKey
	if cmd.IsVote() {
		user.VoiceCreditBalance = balance
		if cmd.Weight.Sign() == 0 {
			delete(user.Votes, cmd.RecipientIndex)
		} else {
			user.Votes[cmd.RecipientIndex] = new(big.Int).Set(cmd.Weight)
		}
	}
	return nil
}
