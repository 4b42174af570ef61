package crypto

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the length of a secretbox key in bytes.
	KeySize = 32

	// NonceSize is the length of a secretbox nonce in bytes.
	NonceSize = 24

	// Overhead is the number of bytes Seal adds to a message (Poly1305 tag).
	Overhead = secretbox.Overhead
)

// Maximum message size. A sealed message has to fit in one UDP datagram.
const MaxMessageSize = 65507 - Overhead

// Key is a symmetric secretbox key.
type Key [KeySize]byte

// Nonce is a 24-byte value used for encryption.
type Nonce [NonceSize]byte

var (
	// ErrEmptyMessage indicates an attempt to seal an empty message.
	ErrEmptyMessage = errors.New("empty message")

	// ErrMessageTooLarge indicates the message would not fit in a datagram.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidKey indicates key material of the wrong length.
	ErrInvalidKey = errors.New("invalid key length")

	// ErrNonceTooLong indicates a nonce prefix longer than NonceSize.
	ErrNonceTooLong = errors.New("nonce prefix too long")
)

// NewKey copies raw key material into a Key.
func NewKey(raw []byte) (Key, error) {
	var k Key
	if len(raw) != KeySize {
		return k, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(raw), KeySize)
	}
	copy(k[:], raw)
	return k, nil
}

// IsZero reports whether the key is all zeros, i.e. never installed or wiped.
func (k *Key) IsZero() bool {
	var zero Key
	return subtle.ConstantTimeCompare(k[:], zero[:]) == 1
}

// SetPrefix overwrites the nonce with prefix followed by zero padding.
func (n *Nonce) SetPrefix(prefix []byte) error {
	if len(prefix) > NonceSize {
		return ErrNonceTooLong
	}
	copy(n[:], prefix)
	for i := len(prefix); i < NonceSize; i++ {
		n[i] = 0
	}
	return nil
}

// NonceFromPrefix returns a nonce made of prefix and zero padding.
func NonceFromPrefix(prefix []byte) (Nonce, error) {
	var n Nonce
	err := n.SetPrefix(prefix)
	return n, err
}

// Seal encrypts and authenticates message, appending the result to out.
// The returned slice is out extended by len(message)+Overhead bytes.
func Seal(out, message []byte, nonce *Nonce, key *Key) ([]byte, error) {
	if len(message) == 0 {
		return nil, ErrEmptyMessage
	}

	if len(message) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	return secretbox.Seal(out, message, (*[NonceSize]byte)(nonce), (*[KeySize]byte)(key)), nil
}
