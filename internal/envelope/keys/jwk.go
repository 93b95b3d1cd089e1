package keys

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/jetstack/sealer/internal/envelope"
)

// Fingerprint returns the RFC 7638 JWK thumbprint of pub, computed with SHA-256 and encoded as unpadded base64url.
// It identifies a key without revealing anything secret and is stable across PEM and JWK encodings.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", fmt.Errorf("RSA public key cannot be nil")
	}

	key, err := jwk.Import(pub)
	if err != nil {
		return "", fmt.Errorf("failed to convert public key to JWK: %w", err)
	}

	thumbprint, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute JWK thumbprint: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

// MarshalJWK encodes pub as a JWK with its fingerprint as the key ID.
func MarshalJWK(pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("RSA public key cannot be nil")
	}

	key, err := jwk.Import(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key to JWK: %w", err)
	}

	kid, err := Fingerprint(pub)
	if err != nil {
		return nil, err
	}

	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, fmt.Errorf("failed to set JWK key ID: %w", err)
	}

	out, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JWK: %w", err)
	}

	return out, nil
}

// parseJWKPublicKey returns the first RSA key in a JWK or JWK Set that is large enough to use. If the only RSA keys
// present are too small the error is envelope.ErrWeakKey.
func parseJWKPublicKey(data []byte) (*rsa.PublicKey, error) {
	keySet, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse JWK: %w", envelope.ErrKeyFormat, err)
	}

	var weakErr error
	for i := range keySet.Len() {
		key, ok := keySet.Key(i)
		if !ok {
			continue
		}

		// Only process RSA keys
		if key.KeyType().String() != "RSA" {
			continue
		}

		var rawKey any
		if err := jwk.Export(key, &rawKey); err != nil {
			// skip unparseable keys
			continue
		}

		var pub *rsa.PublicKey
		switch k := rawKey.(type) {
		case *rsa.PublicKey:
			pub = k
		case *rsa.PrivateKey:
			pub = &k.PublicKey
		default:
			continue
		}

		if err := checkKeySize(pub); err != nil {
			weakErr = err
			continue
		}

		return pub, nil
	}

	if weakErr != nil {
		return nil, weakErr
	}

	return nil, fmt.Errorf("%w: no usable RSA key in JWK data", envelope.ErrKeyFormat)
}
