// Package keys manages the RSA key pairs used to wrap envelope session keys.
//
// Keys are generated explicitly, saved as a pair of PEM files and loaded by
// path. Loading never generates: a missing key file is always reported as
// envelope.ErrKeyNotFound.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/jetstack/sealer/internal/atomicfile"
	"github.com/jetstack/sealer/internal/envelope"
)

var (
	// ErrKeyExists is returned by Save when a target file exists and overwriting was not requested.
	ErrKeyExists = errors.New("key file already exists")

	// ErrUnsupportedKeySize is returned by Generate for sizes outside SupportedKeySizes.
	ErrUnsupportedKeySize = errors.New("unsupported RSA key size")

	// ErrPassphraseRequired is returned when a passphrase-protected private key is loaded without a passphrase.
	ErrPassphraseRequired = errors.New("private key is encrypted and requires a passphrase")

	// ErrBadPassphrase is returned when a passphrase does not decrypt a protected private key.
	ErrBadPassphrase = errors.New("incorrect passphrase")
)

const (
	// DefaultKeySize is the size used by the CLI when none is configured.
	DefaultKeySize = 3072

	privateKeyFileMode = 0o600
	publicKeyFileMode  = 0o644
	keyDirMode         = 0o700
)

// SupportedKeySizes are the RSA modulus sizes Generate accepts.
var SupportedKeySizes = []int{2048, 3072, 4096}

// KeyPair is an RSA private key together with its public half.
type KeyPair struct {
	Private *rsa.PrivateKey
}

// Public returns the public half of the pair.
func (kp *KeyPair) Public() *rsa.PublicKey {
	return &kp.Private.PublicKey
}

// Generate creates a new key pair. Sizes below envelope.MinRSAKeySize fail with envelope.ErrWeakKey and any other
// size not listed in SupportedKeySizes fails with ErrUnsupportedKeySize.
func Generate(bits int) (*KeyPair, error) {
	if bits < envelope.MinRSAKeySize {
		return nil, fmt.Errorf("%w: %d bits requested, need at least %d", envelope.ErrWeakKey, bits, envelope.MinRSAKeySize)
	}

	if !slices.Contains(SupportedKeySizes, bits) {
		return nil, fmt.Errorf("%w: %d bits (supported: %v)", ErrUnsupportedKeySize, bits, SupportedKeySizes)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	return &KeyPair{Private: key}, nil
}

// SaveOptions control how Save writes a key pair.
type SaveOptions struct {
	// Passphrase, if set, encrypts the private key file.
	Passphrase []byte

	// Overwrite allows existing files to be replaced. Replacing a private key makes every envelope sealed to the old
	// key unreadable.
	Overwrite bool
}

// Save writes the private key to privatePath with mode 0600 and the public key to publicPath with mode 0644. Both
// files are written atomically and missing parent directories are created with mode 0700. If either file cannot be
// committed the files that were there before are left in place.
func Save(kp *KeyPair, privatePath, publicPath string, opts SaveOptions) error {
	if kp == nil || kp.Private == nil {
		return fmt.Errorf("key pair cannot be nil")
	}

	if privatePath == "" || publicPath == "" {
		return fmt.Errorf("both a private and a public key path are required")
	}

	if samePath(privatePath, publicPath) {
		return fmt.Errorf("private and public key paths must differ, both are %s", privatePath)
	}

	if !opts.Overwrite {
		for _, path := range []string{privatePath, publicPath} {
			if err := checkNotExists(path); err != nil {
				return err
			}
		}
	}

	var (
		privatePEM []byte
		err        error
	)
	if len(opts.Passphrase) > 0 {
		privatePEM, err = EncryptPrivateKey(kp.Private, opts.Passphrase)
	} else {
		privatePEM, err = MarshalPrivateKey(kp.Private)
	}
	if err != nil {
		return err
	}

	publicPEM, err := MarshalPublicKey(kp.Public())
	if err != nil {
		return err
	}

	for _, path := range []string{privatePath, publicPath} {
		if err := os.MkdirAll(filepath.Dir(path), keyDirMode); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}

	previousPublic, err := os.ReadFile(publicPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read existing public key: %w", err)
	}

	privateFile, err := writePending(privatePath, privatePEM, privateKeyFileMode)
	if err != nil {
		return err
	}
	defer func() { _ = privateFile.Discard() }()

	publicFile, err := writePending(publicPath, publicPEM, publicKeyFileMode)
	if err != nil {
		return err
	}
	defer func() { _ = publicFile.Discard() }()

	// The public key goes first. Until the private key is replaced the old
	// public key can be put back, while an old private key cannot.
	if err := commit(publicFile); err != nil {
		return err
	}

	if err := commit(privateFile); err != nil {
		if rerr := restorePublic(publicPath, previousPublic); rerr != nil {
			return fmt.Errorf("%w; restoring %s also failed: %w", err, publicPath, rerr)
		}
		return err
	}

	return nil
}

var commit = (*atomicfile.File).Commit

// restorePublic puts back the public key that was on disk before Save, or
// removes the new one if there was none.
func restorePublic(path string, previous []byte) error {
	if previous == nil {
		return os.Remove(path)
	}

	f, err := writePending(path, previous, publicKeyFileMode)
	if err != nil {
		return err
	}
	return f.Commit()
}

// LoadPrivate reads an unencrypted private key from path.
func LoadPrivate(path string) (*rsa.PrivateKey, error) {
	return LoadPrivateWithPassphrase(path, nil)
}

// LoadPrivateWithPassphrase reads a private key from path, decrypting it with passphrase if the file is protected.
// The passphrase is ignored for unprotected files.
func LoadPrivateWithPassphrase(path string, passphrase []byte) (*rsa.PrivateKey, error) {
	data, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}

	key, err := ParsePrivateKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return key, nil
}

// LoadPublic reads a public key from path. PEM (PKIX or PKCS#1) and JWK or JWK Set JSON files are accepted.
func LoadPublic(path string) (*rsa.PublicKey, error) {
	data, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}

	key, err := ParsePublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return key, nil
}

// IsProtected reports whether the private key file at path is passphrase-protected.
func IsProtected(path string) (bool, error) {
	data, err := readKeyFile(path)
	if err != nil {
		return false, err
	}

	return isEncryptedPEM(data), nil
}

func readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w", envelope.ErrKeyNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	return data, nil
}

func checkNotExists(path string) error {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrKeyExists, path)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("failed to check %s: %w", path, err)
	}
}

func writePending(path string, data []byte, perm os.FileMode) (*atomicfile.File, error) {
	f, err := atomicfile.Create(path, perm)
	if err != nil {
		return nil, err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Discard()
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}

	return f, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}

	return absA == absB
}

func checkKeySize(pub *rsa.PublicKey) error {
	if bits := pub.N.BitLen(); bits < envelope.MinRSAKeySize {
		return fmt.Errorf("%w: RSA key size must be at least %d bits, got %d bits", envelope.ErrWeakKey, envelope.MinRSAKeySize, bits)
	}

	return nil
}
