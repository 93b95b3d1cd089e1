package envelope

import (
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// SessionKeySize is the size of the per-message symmetric key in bytes.
	SessionKeySize = 32

	// NonceSize is the size of the AEAD nonce in bytes. NB: Nonce sizes can be security critical.
	// Reusing a nonce with the same key breaks AES-256 GCM completely. Each session key is used
	// for exactly one message.
	NonceSize = 12

	// TagSize is the size of the AEAD authentication tag in bytes.
	TagSize = 16

	// MinRSAKeySize is the minimum RSA key size in bits; 2048 is a sane floor to enforce to ensure that a weak key
	// can't accidentally be used.
	MinRSAKeySize = 2048

	// DefaultChunkSize is the plaintext size of each chunk in a stream.
	DefaultChunkSize = 64 << 10

	// MinChunkSize and MaxChunkSize bound the chunk size of streams, both when writing and when
	// accepting a chunk size from a stream header.
	MinChunkSize = 1 << 10
	MaxChunkSize = 16 << 20
)

type options struct {
	cipher    Cipher
	random    io.Reader
	chunkSize int
}

func defaultOptions() options {
	return options{
		cipher:    AES256GCM,
		random:    rand.Reader,
		chunkSize: DefaultChunkSize,
	}
}

// Option configures an Encryptor or Decryptor.
type Option func(*options) error

// WithCipher selects the AEAD. Both parties must agree on the cipher for single-shot envelopes; for streams the
// decryptor takes the cipher from the stream header.
func WithCipher(c Cipher) Option {
	return func(o *options) error {
		if !c.Valid() {
			return fmt.Errorf("unsupported cipher %s", c)
		}
		o.cipher = c
		return nil
	}
}

// WithRandom sets the entropy source used for session keys, nonces and OAEP padding. It defaults to crypto/rand and
// is intended to be overridden only in tests.
func WithRandom(r io.Reader) Option {
	return func(o *options) error {
		if r == nil {
			return fmt.Errorf("random source cannot be nil")
		}
		o.random = r
		return nil
	}
}

// WithChunkSize sets the plaintext chunk size used when encrypting streams.
func WithChunkSize(n int) Option {
	return func(o *options) error {
		if n < MinChunkSize || n > MaxChunkSize {
			return fmt.Errorf("chunk size must be between %d and %d bytes, got %d", MinChunkSize, MaxChunkSize, n)
		}
		o.chunkSize = n
		return nil
	}
}

func applyOptions(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}
	return o, nil
}
