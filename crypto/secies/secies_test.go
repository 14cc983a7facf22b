package secies

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/vocdoni-qf/crypto"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
)

func sharedCiphers(c *qt.C) (*Cipher, *Cipher) {
	sender := keys.GenerateKeypair()
	recipient := keys.GenerateKeypair()
	s1, err := sender.ECDH(recipient.PublicKey)
	c.Assert(err, qt.IsNil)
	s2, err := recipient.ECDH(sender.PublicKey)
	c.Assert(err, qt.IsNil)
	c1, err := New(s1)
	c.Assert(err, qt.IsNil)
	c2, err := New(s2)
	c.Assert(err, qt.IsNil)
	return c1, c2
}

func TestEncryptionDecryption(t *testing.T) {
	c := qt.New(t)
	enc, dec := sharedCiphers(c)

	maxField := new(big.Int).Sub(crypto.FieldModulus(), big.NewInt(1))
	plaintext := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(42),
		maxField,
	}
	ciphertext, err := enc.Encrypt(plaintext)
	c.Assert(err, qt.IsNil)
	c.Assert(ciphertext, qt.HasLen, len(plaintext)+1)
	for i := range plaintext {
		c.Assert(ciphertext[i].Cmp(plaintext[i]), qt.Not(qt.Equals), 0)
	}

	decrypted, err := dec.Decrypt(ciphertext)
	c.Assert(err, qt.IsNil)
	c.Assert(decrypted, qt.HasLen, len(plaintext))
	for i := range plaintext {
		c.Assert(decrypted[i].Cmp(plaintext[i]), qt.Equals, 0, qt.Commentf("element %d", i))
	}
}

func TestDecryptErrors(t *testing.T) {
	c := qt.New(t)
	enc, dec := sharedCiphers(c)
	other, _ := sharedCiphers(c)

	ciphertext, err := enc.Encrypt([]*big.Int{big.NewInt(7), big.NewInt(8)})
	c.Assert(err, qt.IsNil)

	// wrong key
	_, err = other.Decrypt(ciphertext)
	c.Assert(err, qt.ErrorIs, ErrAuthentication)

	// tampered element
	tampered := append([]*big.Int{}, ciphertext...)
	tampered[0] = new(big.Int).Add(tampered[0], big.NewInt(1))
	_, err = dec.Decrypt(tampered)
	c.Assert(err, qt.ErrorIs, ErrAuthentication)

	// truncated
	_, err = dec.Decrypt(ciphertext[1:])
	c.Assert(err, qt.ErrorIs, ErrAuthentication)
	_, err = dec.Decrypt(ciphertext[:1])
	c.Assert(err, qt.ErrorIs, ErrInvalidCiphertext)

	// out of field
	outOfField := append([]*big.Int{}, ciphertext...)
	outOfField[1] = crypto.FieldModulus()
	_, err = dec.Decrypt(outOfField)
	c.Assert(err, qt.ErrorIs, ErrInvalidCiphertext)

	_, err = enc.Encrypt([]*big.Int{crypto.FieldModulus()})
	c.Assert(err, qt.ErrorIs, crypto.ErrArithmeticOverflow)
	_, err = enc.Encrypt(nil)
	c.Assert(err, qt.IsNotNil)
}
