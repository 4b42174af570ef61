package crypto

import (
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecrypt indicates the sealed box failed authentication.
var ErrDecrypt = errors.New("decryption failed: message authentication failed")

// Open authenticates and decrypts box, appending the plaintext to out.
func Open(out, box []byte, nonce *Nonce, key *Key) ([]byte, error) {
	if len(box) < Overhead {
		return nil, ErrDecrypt
	}

	plain, ok := secretbox.Open(out, box, (*[NonceSize]byte)(nonce), (*[KeySize]byte)(key))
	if !ok {
		return nil, ErrDecrypt
	}

	return plain, nil
}
