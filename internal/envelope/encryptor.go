package envelope

import (
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"
)

// Encryptor produces envelopes for a single recipient public key. An Encryptor is immutable and safe for concurrent
// use; every call generates its own session key and nonce.
type Encryptor struct {
	publicKey *rsa.PublicKey
	opts      options
}

// NewEncryptor creates a new Encryptor with the provided RSA public key.
// The RSA key must be at least MinRSAKeySize bits.
func NewEncryptor(publicKey *rsa.PublicKey, opts ...Option) (*Encryptor, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("RSA public key cannot be nil")
	}

	if err := checkKeySize(publicKey); err != nil {
		return nil, err
	}

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Encryptor{
		publicKey: publicKey,
		opts:      o,
	}, nil
}

// Encrypt encrypts plaintext under the default options and returns the envelope.
func Encrypt(plaintext []byte, publicKey *rsa.PublicKey) ([]byte, error) {
	enc, err := NewEncryptor(publicKey)
	if err != nil {
		return nil, err
	}

	return enc.Encrypt(plaintext)
}

// Cipher returns the AEAD used by the encryptor.
func (e *Encryptor) Cipher() Cipher {
	return e.opts.cipher
}

// Overhead returns the number of bytes an envelope adds to its plaintext.
func (e *Encryptor) Overhead() int {
	return e.publicKey.Size() + NonceSize + TagSize
}

// EnvelopeSize returns the exact length of the envelope produced for a plaintext of n bytes.
func (e *Encryptor) EnvelopeSize(n int) int {
	return e.Overhead() + n
}

// Encrypt performs envelope encryption on the provided data.
// It generates a random session key, encrypts the data with the AEAD, then encrypts the session key with
// RSA-OAEP-SHA256. The result is laid out as wrapped key, nonce, tag, ciphertext. Empty plaintexts are allowed.
// On failure no envelope is returned and the error wraps ErrEncryption.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	s, err := e.newSession(e.opts.cipher)
	if err != nil {
		return nil, err
	}

	k := len(s.wrappedKey)
	out := make([]byte, e.EnvelopeSize(len(plaintext)))
	copy(out, s.wrappedKey)

	nonce := out[k : k+NonceSize]
	if _, err := io.ReadFull(e.opts.random, nonce); err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %w", ErrEncryption, err)
	}

	// Seal appends the tag to the ciphertext; the envelope stores the tag first.
	sealed := s.aead.Seal(nil, nonce, plaintext, s.wrappedKey)
	copy(out[k+NonceSize:], sealed[len(plaintext):])
	copy(out[k+NonceSize+TagSize:], sealed[:len(plaintext)])

	return out, nil
}

// session is a freshly generated session key, held only inside its AEAD, and its wrapped form.
type session struct {
	aead       cipher.AEAD
	wrappedKey []byte
}

func (e *Encryptor) newSession(c Cipher) (*session, error) {
	key := make([]byte, SessionKeySize)
	defer clear(key)

	if _, err := io.ReadFull(e.opts.random, key); err != nil {
		return nil, fmt.Errorf("%w: failed to generate session key: %w", ErrEncryption, err)
	}

	aead, err := c.newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
	}

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), e.opts.random, e.publicKey, key, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encrypt session key with RSA: %w", ErrEncryption, err)
	}

	return &session{
		aead:       aead,
		wrappedKey: wrappedKey,
	}, nil
}

func checkKeySize(publicKey *rsa.PublicKey) error {
	if publicKey.N == nil {
		return fmt.Errorf("%w: RSA modulus is missing", ErrKeyFormat)
	}

	keySize := publicKey.N.BitLen()
	if keySize < MinRSAKeySize {
		return fmt.Errorf("%w: RSA key size must be at least %d bits, got %d bits", ErrWeakKey, MinRSAKeySize, keySize)
	}

	return nil
}
