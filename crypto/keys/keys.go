// Package keys manages the BabyJubJub keypairs used by contributors and
// coordinators: generation, EdDSA-Poseidon signatures, Diffie-Hellman shared
// keys and the text serialization used to share them.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/iden3/go-iden3-crypto/babyjub"
)

const (
	// PrivateKeyPrefix prefixes the serialized private keys.
	PrivateKeyPrefix = "macisk."
	// PublicKeyPrefix prefixes the serialized (compressed) public keys.
	PublicKeyPrefix = "macipk."
)

var (
	// ErrInvalidPublicKey is returned when a public key is not a point of the
	// BabyJubJub prime order subgroup.
	ErrInvalidPublicKey = errors.New("invalid public key")
	// ErrDegenerateSharedKey is returned when a Diffie-Hellman exchange
	// results in a low order point, which would make the derived key
	// predictable.
	ErrDegenerateSharedKey = errors.New("degenerate shared key")
)

// Keypair holds a BabyJubJub private key and its public key.
type Keypair struct {
	PrivateKey babyjub.PrivateKey
	PublicKey  *babyjub.PublicKey
}

// GenerateKeypair returns a new random keypair.
func GenerateKeypair() *Keypair {
	return NewKeypair(babyjub.NewRandPrivKey())
}

// NewKeypair derives the keypair of the private key provided.
func NewKeypair(sk babyjub.PrivateKey) *Keypair {
	return &Keypair{
		PrivateKey: sk,
		PublicKey:  sk.Public(),
	}
}

// Scalar returns the secret scalar of the keypair, the one the public key is
// derived from (PublicKey = Scalar * B8).
func (k *Keypair) Scalar() *big.Int {
	return k.PrivateKey.Scalar().BigInt()
}

// Sign signs the field element msg with EdDSA over Poseidon.
func (k *Keypair) Sign(msg *big.Int) *babyjub.Signature {
	return k.PrivateKey.SignPoseidon(msg)
}

// ECDH returns the shared point between the keypair and the public key
// provided. Both sides of the exchange get the same point. If the public key
// is not a valid subgroup point, or the result is the identity, an error is
// returned.
func (k *Keypair) ECDH(pub *babyjub.PublicKey) (*babyjub.Point, error) {
	if err := ValidatePublicKey(pub); err != nil {
		return nil, err
	}
	shared := babyjub.NewPoint().Mul(k.Scalar(), pub.Point())
	if IsIdentity(shared) {
		return nil, ErrDegenerateSharedKey
	}
	return shared, nil
}

// ValidatePublicKey checks that the public key is a point of the curve that
// belongs to the prime order subgroup and is not the identity.
func ValidatePublicKey(pub *babyjub.PublicKey) error {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return fmt.Errorf("%w: empty key", ErrInvalidPublicKey)
	}
	p := pub.Point()
	if !p.InCurve() {
		return fmt.Errorf("%w: point not on curve", ErrInvalidPublicKey)
	}
	if !p.InSubGroup() {
		return fmt.Errorf("%w: point not in subgroup", ErrInvalidPublicKey)
	}
	if IsIdentity(p) {
		return fmt.Errorf("%w: identity point", ErrInvalidPublicKey)
	}
	return nil
}

// IsIdentity returns true for the points with x = 0, the identity (0, 1) and
// the point of order two (0, -1).
func IsIdentity(p *babyjub.Point) bool {
	return p == nil || p.X == nil || p.X.Sign() == 0
}

// Equal returns true if both public keys are the same point.
func Equal(a, b *babyjub.PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.X.Cmp(b.X) == 0 && a.Y.Cmp(b.Y) == 0
}

// SerializePrivateKey returns the text form of the private key.
func (k *Keypair) SerializePrivateKey() string {
	return PrivateKeyPrefix + hex.EncodeToString(k.PrivateKey[:])
}

// SerializePublicKey returns the text form of the keypair public key.
func (k *Keypair) SerializePublicKey() string {
	return SerializePublicKey(k.PublicKey)
}

// SerializePublicKey returns the text form of the compressed public key.
func SerializePublicKey(pub *babyjub.PublicKey) string {
	comp := pub.Compress()
	return PublicKeyPrefix + hex.EncodeToString(comp[:])
}

// ParsePrivateKey parses a private key serialized with SerializePrivateKey
// and returns its keypair.
func ParsePrivateKey(s string) (*Keypair, error) {
	if !strings.HasPrefix(s, PrivateKeyPrefix) {
		return nil, fmt.Errorf("missing %q prefix", PrivateKeyPrefix)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, PrivateKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("cannot decode private key: %w", err)
	}
	var sk babyjub.PrivateKey
	if len(b) != len(sk) {
		return nil, fmt.Errorf("invalid private key length %d", len(b))
	}
	copy(sk[:], b)
	return NewKeypair(sk), nil
}

// ParsePublicKey parses a public key serialized with SerializePublicKey.
func ParsePublicKey(s string) (*babyjub.PublicKey, error) {
	if !strings.HasPrefix(s, PublicKeyPrefix) {
		return nil, fmt.Errorf("missing %q prefix", PublicKeyPrefix)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, PublicKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("cannot decode public key: %w", err)
	}
	var comp babyjub.PublicKeyComp
	if len(b) != len(comp) {
		return nil, fmt.Errorf("invalid public key length %d", len(b))
	}
	copy(comp[:], b)
	pub, err := comp.Decompress()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if err := ValidatePublicKey(pub); err != nil {
		return nil, err
	}
	return pub, nil
}
