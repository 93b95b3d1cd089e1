package keys

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/jetstack/sealer/internal/envelope"
)

const (
	pemTypePrivateKey          = "PRIVATE KEY"
	pemTypeRSAPrivateKey       = "RSA PRIVATE KEY"
	pemTypePublicKey           = "PUBLIC KEY"
	pemTypeRSAPublicKey        = "RSA PUBLIC KEY"
	pemTypeEncryptedPrivateKey = "SEALER ENCRYPTED PRIVATE KEY"
)

// MarshalPrivateKey encodes key as a PKCS#8 "PRIVATE KEY" PEM block.
func MarshalPrivateKey(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der}), nil
}

// MarshalPublicKey encodes key as a PKIX "PUBLIC KEY" PEM block.
func MarshalPublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der}), nil
}

// ParsePrivateKey parses a PEM encoded RSA private key in PKCS#8 or PKCS#1 form, or a passphrase-protected key
// written by Save. Keys smaller than envelope.MinRSAKeySize are rejected with envelope.ErrWeakKey.
func ParsePrivateKey(data, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block", envelope.ErrKeyFormat)
	}

	var (
		key *rsa.PrivateKey
		err error
	)
	switch block.Type {
	case pemTypeEncryptedPrivateKey:
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}

		der, err := decryptPrivateKeyBlock(block, passphrase)
		if err != nil {
			return nil, err
		}
		defer clear(der)

		key, err = parsePKCS8(der)
		if err != nil {
			return nil, err
		}
	case pemTypePrivateKey:
		key, err = parsePKCS8(block.Bytes)
		if err != nil {
			return nil, err
		}
	case pemTypeRSAPrivateKey:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse PKCS1 private key: %w", envelope.ErrKeyFormat, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block type %q for a private key", envelope.ErrKeyFormat, block.Type)
	}

	if err := checkKeySize(&key.PublicKey); err != nil {
		return nil, err
	}

	return key, nil
}

func parsePKCS8(der []byte) (*rsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse PKCS8 private key: %w", envelope.ErrKeyFormat, err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key (got %T)", envelope.ErrKeyFormat, parsed)
	}

	return key, nil
}

// ParsePublicKey parses an RSA public key from a PEM block ("PUBLIC KEY" or "RSA PUBLIC KEY") or from JWK or JWK Set
// JSON. Keys smaller than envelope.MinRSAKeySize are rejected with envelope.ErrWeakKey.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return parseJWKPublicKey(trimmed)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block", envelope.ErrKeyFormat)
	}

	var key *rsa.PublicKey
	switch block.Type {
	case pemTypePublicKey:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse PKIX public key: %w", envelope.ErrKeyFormat, err)
		}

		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA public key (got %T)", envelope.ErrKeyFormat, parsed)
		}
		key = rsaKey
	case pemTypeRSAPublicKey:
		rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse PKCS1 public key: %w", envelope.ErrKeyFormat, err)
		}
		key = rsaKey
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block type %q for a public key", envelope.ErrKeyFormat, block.Type)
	}

	if err := checkKeySize(key); err != nil {
		return nil, err
	}

	return key, nil
}

func isEncryptedPEM(data []byte) bool {
	block, _ := pem.Decode(data)
	return block != nil && block.Type == pemTypeEncryptedPrivateKey
}
