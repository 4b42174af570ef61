package crypto

import (
	"bytes"
	"testing"
)

// FuzzSealOpen checks that any sealable message opens to itself.
func FuzzSealOpen(f *testing.F) {
	f.Add([]byte("Hello, World!"), []byte{0x80, 0x78, 0x00, 0x01})
	f.Add([]byte{0x01}, []byte{})
	f.Add(make([]byte, 100), make([]byte, 12))

	f.Fuzz(func(t *testing.T, message, prefix []byte) {
		if len(message) > 10000 || len(prefix) > NonceSize {
			return
		}

		key := testKey(t)
		nonce, err := NonceFromPrefix(prefix)
		if err != nil {
			t.Fatalf("NonceFromPrefix: %v", err)
		}

		sealed, err := Seal(nil, message, &nonce, &key)
		if err != nil {
			if len(message) == 0 {
				return
			}
			t.Fatalf("Seal: %v", err)
		}
		if len(sealed) != len(message)+Overhead {
			t.Fatalf("sealed length %d, want %d", len(sealed), len(message)+Overhead)
		}

		opened, err := Open(nil, sealed, &nonce, &key)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if !bytes.Equal(opened, message) {
			t.Errorf("Open mismatch: got %x, want %x", opened, message)
		}
	})
}

// FuzzOpen feeds arbitrary boxes to Open, which must fail cleanly.
func FuzzOpen(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, Overhead))
	f.Add(make([]byte, Overhead+32))

	f.Fuzz(func(t *testing.T, box []byte) {
		key := testKey(t)
		var nonce Nonce

		if _, err := Open(nil, box, &nonce, &key); err == nil {
			t.Errorf("Open accepted a forged box of %d bytes", len(box))
		}
	})
}
