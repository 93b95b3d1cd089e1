package envelope

import "errors"

// Errors returned by this package and by the keys package. Callers should match them with errors.Is.
var (
	// ErrWeakKey is returned for RSA keys smaller than MinRSAKeySize.
	ErrWeakKey = errors.New("RSA key is too small")

	// ErrKeyFormat is returned when key material cannot be parsed.
	ErrKeyFormat = errors.New("invalid key format")

	// ErrKeyNotFound is returned when a key file does not exist. Keys are never generated in its place.
	ErrKeyNotFound = errors.New("key file not found")

	// ErrEncryption is returned when an envelope could not be produced, for example because the entropy source failed.
	ErrEncryption = errors.New("encryption failed")

	// ErrMalformedEnvelope is returned when input is too short or structurally invalid to be an envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// ErrKeyUnwrap and ErrAuthentication share a message and never wrap the underlying cause. The text reported to a user
// must not reveal which stage of decryption rejected the input.
var (
	// ErrKeyUnwrap is returned when the wrapped session key cannot be recovered with the private key.
	ErrKeyUnwrap = errors.New(decryptionFailedMessage)

	// ErrAuthentication is returned when a tag does not verify. No plaintext is returned alongside it.
	ErrAuthentication = errors.New(decryptionFailedMessage)
)

const decryptionFailedMessage = "decryption failed: wrong key or tampered data"
