package envelope

import (
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Decryptor opens envelopes addressed to a single private key. The key is only read after construction, so a Decryptor
// is safe for concurrent use.
type Decryptor struct {
	privateKey *rsa.PrivateKey
	opts       options
}

// NewDecryptor creates a new Decryptor with the provided RSA private key.
// The RSA key must be at least MinRSAKeySize bits. The cipher option must match the one used to encrypt single-shot
// envelopes; it is ignored for streams, which record their cipher.
func NewDecryptor(privateKey *rsa.PrivateKey, opts ...Option) (*Decryptor, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("RSA private key cannot be nil")
	}

	if err := checkKeySize(&privateKey.PublicKey); err != nil {
		return nil, err
	}

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Decryptor{
		privateKey: privateKey,
		opts:       o,
	}, nil
}

// Decrypt decrypts an envelope under the default options.
func Decrypt(envelope []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	dec, err := NewDecryptor(privateKey)
	if err != nil {
		return nil, err
	}

	return dec.Decrypt(envelope)
}

// MinEnvelopeSize returns the size of an envelope holding an empty plaintext.
func (d *Decryptor) MinEnvelopeSize() int {
	return d.privateKey.Size() + NonceSize + TagSize
}

// Decrypt recovers the plaintext from an envelope. The tag is verified before anything is returned: on failure the
// result is nil and the error is ErrMalformedEnvelope, ErrKeyUnwrap or ErrAuthentication.
func (d *Decryptor) Decrypt(envelope []byte) ([]byte, error) {
	if len(envelope) < d.MinEnvelopeSize() {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrMalformedEnvelope, len(envelope), d.MinEnvelopeSize())
	}

	k := d.privateKey.Size()
	wrappedKey := envelope[:k]
	nonce := envelope[k : k+NonceSize]
	tag := envelope[k+NonceSize : k+NonceSize+TagSize]
	ciphertext := envelope[k+NonceSize+TagSize:]

	aead, err := d.openSession(d.opts.cipher, wrappedKey)
	if err != nil {
		return nil, err
	}

	// The AEAD expects ciphertext||tag. The copy is decrypted in place, so the caller's envelope is not modified.
	buf := make([]byte, 0, len(ciphertext)+TagSize)
	buf = append(buf, ciphertext...)
	buf = append(buf, tag...)

	plaintext, err := aead.Open(buf[:0], nonce, buf, wrappedKey)
	if err != nil {
		clear(buf)
		return nil, ErrAuthentication
	}

	return plaintext, nil
}

// openSession unwraps a session key and returns its AEAD. All failures are reported as ErrKeyUnwrap without detail.
func (d *Decryptor) openSession(c Cipher, wrappedKey []byte) (cipher.AEAD, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), nil, d.privateKey, wrappedKey, nil)
	if err != nil {
		return nil, ErrKeyUnwrap
	}
	defer clear(key)

	if len(key) != SessionKeySize {
		return nil, ErrKeyUnwrap
	}

	aead, err := c.newAEAD(key)
	if err != nil {
		return nil, ErrKeyUnwrap
	}

	return aead, nil
}
