package message

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/iden3/go-iden3-crypto/babyjub"

	"github.com/vocdoni/vocdoni-qf/crypto"
	multiposeidon "github.com/vocdoni/vocdoni-qf/crypto/hash/poseidon"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/crypto/secies"
	"github.com/vocdoni/vocdoni-qf/types"
)

// maxEphemeralAttempts bounds the number of ephemeral keys tried when the
// shared key is degenerate.
const maxEphemeralAttempts = 8

var (
	// ErrMalformedMessage is returned when a message cannot be decrypted or
	// its plaintext cannot be parsed as a signed command.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrDegenerateKeyMaterial is returned when the ephemeral and coordinator
	// keys do not produce a usable shared key.
	ErrDegenerateKeyMaterial = errors.New("degenerate key material")
)

// deriveSharedKey is replaced in tests to force degenerate shared keys.
var deriveSharedKey = func(k *keys.Keypair, pub *babyjub.PublicKey) (*babyjub.Point, error) {
	return k.ECDH(pub)
}

// Message is an encrypted signed command together with the ephemeral public
// key the coordinator needs to decrypt it.
//
// A decoded message whose encryption key is not a valid compressed point has
// a nil EncPubKey. It keeps the encoded key so it can be stored again, and
// Open rejects it with ErrDegenerateKeyMaterial.
type Message struct {
	Data      []*big.Int
	EncPubKey *babyjub.PublicKey

	rawEncPubKey []byte
	encKeyErr    error
}

// CreateMessage builds the command of a contributor, signs it with the author
// key and encrypts it for the coordinator under a fresh ephemeral key.
//
// If newKey is nil the command keeps the author key, otherwise the next
// command of the user must be signed with newKey. A nil voiceCredits casts a
// zero weight, and a nil salt is replaced by a random one. The weight
// recorded in the command is the integer square root of voiceCredits.
//
// It returns the message and the ephemeral public key used to encrypt it.
func CreateMessage(
	stateIndex uint64,
	author *keys.Keypair,
	newKey *keys.Keypair,
	coordinatorPubKey *babyjub.PublicKey,
	recipientIndex uint64,
	voiceCredits *big.Int,
	nonce uint64,
	salt *big.Int,
) (*Message, *babyjub.PublicKey, error) {
	if author == nil {
		return nil, nil, fmt.Errorf("author keypair cannot be nil")
	}
	weight, err := crypto.QuadraticWeight(voiceCredits)
	if err != nil {
		return nil, nil, err
	}
	if salt == nil {
		if salt, err = crypto.RandomFieldElement(); err != nil {
			return nil, nil, err
		}
	} else if !crypto.InField(salt) {
		return nil, nil, fmt.Errorf("salt: %w", crypto.ErrArithmeticOverflow)
	}
	cmd := &Command{
		StateIndex:     stateIndex,
		NewPublicKey:   author.PublicKey,
		RecipientIndex: recipientIndex,
		Weight:         weight,
		Nonce:          nonce,
		Salt:           salt,
	}
	if newKey != nil {
		cmd.NewPublicKey = newKey.PublicKey
	}
	sig, err := cmd.Sign(author)
	if err != nil {
		return nil, nil, err
	}
	msg, err := Encrypt(cmd, sig, coordinatorPubKey)
	if err != nil {
		return nil, nil, err
	}
	return msg, msg.EncPubKey, nil
}

// Encrypt encrypts a signed command for the coordinator public key under a
// fresh ephemeral key.
func Encrypt(cmd *Command, sig *babyjub.Signature, coordinatorPubKey *babyjub.PublicKey) (*Message, error) {
	if err := keys.ValidatePublicKey(coordinatorPubKey); err != nil {
		return nil, fmt.Errorf("%w: coordinator key: %w", ErrDegenerateKeyMaterial, err)
	}
	for attempt := 0; attempt < maxEphemeralAttempts; attempt++ {
		ephemeral := keys.GenerateKeypair()
		shared, err := deriveSharedKey(ephemeral, coordinatorPubKey)
		if errors.Is(err, keys.ErrDegenerateSharedKey) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDegenerateKeyMaterial, err)
		}
		cipher, err := secies.New(shared)
		if err != nil {
			return nil, err
		}
		data, err := cipher.Encrypt(cmd.plaintext(sig))
		if err != nil {
			return nil, fmt.Errorf("cannot encrypt command: %w", err)
		}
		return &Message{Data: data, EncPubKey: ephemeral.PublicKey}, nil
	}
	return nil, fmt.Errorf("%w: no usable ephemeral key after %d attempts",
		ErrDegenerateKeyMaterial, maxEphemeralAttempts)
}

// Open decrypts the message with the coordinator keypair and returns the
// command and its signature. The signature is not verified here, since the
// key that must have signed it depends on the state of the user.
func Open(coordinator *keys.Keypair, msg *Message) (*Command, *babyjub.Signature, error) {
	if msg == nil {
		return nil, nil, fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	if msg.encKeyErr != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDegenerateKeyMaterial, msg.encKeyErr)
	}
	shared, err := deriveSharedKey(coordinator, msg.EncPubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDegenerateKeyMaterial, err)
	}
	cipher, err := secies.New(shared)
	if err != nil {
		return nil, nil, err
	}
	pt, err := cipher.Decrypt(msg.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return parsePlaintext(pt)
}

// Hash returns a Poseidon digest of the message, usable as its identifier.
func (m *Message) Hash() (*big.Int, error) {
	if m.EncPubKey == nil {
		return nil, fmt.Errorf("%w: missing encryption key", ErrMalformedMessage)
	}
	inputs := append([]*big.Int{m.EncPubKey.X, m.EncPubKey.Y}, m.Data...)
	return multiposeidon.MultiPoseidon(inputs...)
}

// messageCBOR is the encoded form of a Message.
type messageCBOR struct {
	Data      []*types.BigInt `cbor:"0,keyasint"`
	EncPubKey types.HexBytes  `cbor:"1,keyasint"`
}

// MarshalCBOR encodes the message with the ephemeral key compressed.
func (m *Message) MarshalCBOR() ([]byte, error) {
	mc := &messageCBOR{Data: types.BigInts(m.Data)}
	switch {
	case m.EncPubKey != nil:
		comp := m.EncPubKey.Compress()
		mc.EncPubKey = comp[:]
	case m.rawEncPubKey != nil:
		mc.EncPubKey = m.rawEncPubKey
	default:
		return nil, fmt.Errorf("%w: missing encryption key", ErrMalformedMessage)
	}
	return cbor.Marshal(mc)
}

// UnmarshalCBOR decodes a message encoded with MarshalCBOR. An encryption key
// that does not decompress is not a decoding error: the message is kept and
// fails when opened, so it never hides the rest of its batch.
func (m *Message) UnmarshalCBOR(data []byte) error {
	var mc messageCBOR
	if err := cbor.Unmarshal(data, &mc); err != nil {
		return err
	}
	m.Data = types.MathBigInts(mc.Data)
	m.EncPubKey, m.rawEncPubKey, m.encKeyErr = nil, nil, nil

	var comp babyjub.PublicKeyComp
	if len(mc.EncPubKey) != len(comp) {
		m.rawEncPubKey = append([]byte{}, mc.EncPubKey...)
		m.encKeyErr = fmt.Errorf("invalid encryption key length %d", len(mc.EncPubKey))
		return nil
	}
	copy(comp[:], mc.EncPubKey)
	pub, err := comp.Decompress()
	if err != nil {
		m.rawEncPubKey = append([]byte{}, mc.EncPubKey...)
		m.encKeyErr = fmt.Errorf("invalid encryption key: %w", err)
		return nil
	}
	m.EncPubKey = pub
	return nil
}
