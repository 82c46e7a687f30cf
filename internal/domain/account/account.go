package account

import (
	"bytes"

	"github.com/mr-tron/base58"
	"github.com/rotisserie/eris"
	"golang.org/x/crypto/ed25519"
)

// PubkeyLength is the size in bytes of an owner identity or slot address.
const PubkeyLength = 32

// SignatureLength is the size in bytes of an ed25519 signature.
const SignatureLength = ed25519.SignatureSize

var (
	// ErrInvalidPubkey indicates a value that does not decode to a 32 byte key.
	ErrInvalidPubkey = eris.New("invalid public key")
	// ErrInvalidSignature indicates a value that does not decode to a 64 byte signature.
	ErrInvalidSignature = eris.New("invalid signature encoding")
	// ErrInvalidPrivateKey indicates a value that does not decode to an ed25519 private key.
	ErrInvalidPrivateKey = eris.New("invalid private key")
)

// Pubkey identifies an owner or a storage slot. Its text form is base58.
type Pubkey [PubkeyLength]byte

// ParsePubkey decodes a base58 encoded key.
func ParsePubkey(encoded string) (Pubkey, error) {
	if encoded == "" {
		return Pubkey{}, eris.Wrap(ErrInvalidPubkey, "empty key")
	}

	decoded, err := base58.Decode(encoded)
	if err != nil {
		return Pubkey{}, eris.Wrapf(ErrInvalidPubkey, "decoding %q", encoded)
	}

	return PubkeyFromBytes(decoded)
}

// PubkeyFromBytes copies a raw 32 byte key.
func PubkeyFromBytes(raw []byte) (Pubkey, error) {
	var key Pubkey
	if len(raw) != PubkeyLength {
		return key, eris.Wrapf(ErrInvalidPubkey, "expected %d bytes, got %d", PubkeyLength, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// MustParsePubkey is ParsePubkey for compile-time constants; it panics on bad input.
func MustParsePubkey(encoded string) Pubkey {
	key, err := ParsePubkey(encoded)
	if err != nil {
		panic(err)
	}
	return key
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// Bytes returns a copy of the raw key.
func (p Pubkey) Bytes() []byte {
	out := make([]byte, PubkeyLength)
	copy(out, p[:])
	return out
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

func (p Pubkey) Equal(other Pubkey) bool {
	return bytes.Equal(p[:], other[:])
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(text []byte) error {
	key, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = key
	return nil
}

// PubkeyFromPrivateKey returns the identity belonging to an ed25519 private key.
func PubkeyFromPrivateKey(key ed25519.PrivateKey) (Pubkey, error) {
	if len(key) != ed25519.PrivateKeySize {
		return Pubkey{}, eris.Wrapf(ErrInvalidPrivateKey, "expected %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	public, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return Pubkey{}, eris.Wrap(ErrInvalidPrivateKey, "unexpected public key type")
	}
	return PubkeyFromBytes(public)
}

// ParseSignature decodes a base58 encoded ed25519 signature.
func ParseSignature(encoded string) ([]byte, error) {
	decoded, err := base58.Decode(encoded)
	if err != nil || len(decoded) != SignatureLength {
		return nil, eris.Wrapf(ErrInvalidSignature, "decoding %q", encoded)
	}
	return decoded, nil
}

// EncodeSignature returns the base58 form of a signature.
func EncodeSignature(signature []byte) string {
	return base58.Encode(signature)
}

// Verify reports whether signature is a valid ed25519 signature of message by owner.
func Verify(owner Pubkey, message, signature []byte) bool {
	if len(signature) != SignatureLength {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(owner[:]), message, signature)
}

// EncodePrivateKey returns the base58 form of a 64 byte ed25519 private key, the layout
// wallets use for exported keypairs.
func EncodePrivateKey(key ed25519.PrivateKey) string {
	return base58.Encode(key)
}

// ParsePrivateKey decodes a base58 encoded 64 byte ed25519 private key.
func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	decoded, err := base58.Decode(encoded)
	if err != nil {
		return nil, eris.Wrap(ErrInvalidPrivateKey, "decoding base58")
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, eris.Wrapf(ErrInvalidPrivateKey, "expected %d bytes, got %d", ed25519.PrivateKeySize, len(decoded))
	}

	key := ed25519.NewKeyFromSeed(decoded[:ed25519.SeedSize])
	if !bytes.Equal(key[ed25519.SeedSize:], decoded[ed25519.SeedSize:]) {
		return nil, eris.Wrap(ErrInvalidPrivateKey, "public half does not match seed")
	}
	return key, nil
}
