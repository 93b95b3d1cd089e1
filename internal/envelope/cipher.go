package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher identifies the AEAD used for bulk encryption. The numeric value is recorded in stream headers.
type Cipher uint8

const (
	// AES256GCM is AES-256 in Galois/Counter Mode. It is the default.
	AES256GCM Cipher = 1
	// ChaCha20Poly1305 is the RFC 8439 AEAD.
	ChaCha20Poly1305 Cipher = 2
)

// Ciphers lists the supported AEADs in order of preference.
var Ciphers = []Cipher{AES256GCM, ChaCha20Poly1305}

var cipherNames = map[Cipher]string{
	AES256GCM:        "aes-256-gcm",
	ChaCha20Poly1305: "chacha20-poly1305",
}

// String returns the canonical lower case name of the cipher.
func (c Cipher) String() string {
	if name, ok := cipherNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cipher(%d)", uint8(c))
}

// Valid reports whether c is a supported cipher.
func (c Cipher) Valid() bool {
	_, ok := cipherNames[c]
	return ok
}

// ParseCipher returns the cipher with the given name. Matching is case insensitive.
func ParseCipher(name string) (Cipher, error) {
	for c, n := range cipherNames {
		if strings.EqualFold(n, name) {
			return c, nil
		}
	}

	names := make([]string, 0, len(Ciphers))
	for _, c := range Ciphers {
		names = append(names, c.String())
	}
	return 0, fmt.Errorf("unknown cipher %q (expected one of %s)", name, strings.Join(names, ", "))
}

// newAEAD creates the AEAD for a SessionKeySize byte key. Every supported AEAD has a NonceSize nonce and TagSize tag.
func (c Cipher) newAEAD(key []byte) (cipher.AEAD, error) {
	switch c {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}

		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
		}

		return gcm, nil
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
		}

		return aead, nil
	default:
		return nil, fmt.Errorf("unsupported cipher %s", c)
	}
}
