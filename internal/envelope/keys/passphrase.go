package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/jetstack/sealer/internal/envelope"
)

// scrypt parameters for new files. The limits bound what a file may ask for, so that a crafted header cannot make
// loading allocate unbounded memory.
const (
	scryptN       = 1 << 15
	scryptR       = 8
	scryptP       = 1
	scryptKeySize = 32
	saltSize      = 16

	maxScryptN = 1 << 20
	maxScryptR = 32
	maxScryptP = 16

	headerKDF       = "KDF"
	headerKDFParams = "KDF-Params"
	headerSalt      = "Salt"
	headerCipher    = "Cipher"
	headerNonce     = "Nonce"

	kdfScrypt       = "scrypt"
	cipherAES256GCM = "AES-256-GCM"
)

// EncryptPrivateKey returns key as a passphrase-protected PEM block. The PKCS#8 encoding of the key is sealed with
// AES-256-GCM under a key derived from the passphrase with scrypt. The KDF parameters, salt and nonce are stored in
// PEM headers.
func EncryptPrivateKey(key *rsa.PrivateKey, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	defer clear(der)

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: failed to generate salt: %w", envelope.ErrEncryption, err)
	}

	params := formatScryptParams(scryptN, scryptR, scryptP)

	gcm, err := passphraseAEAD(passphrase, salt, scryptN, scryptR, scryptP)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %w", envelope.ErrEncryption, err)
	}

	block := &pem.Block{
		Type: pemTypeEncryptedPrivateKey,
		Headers: map[string]string{
			headerKDF:       kdfScrypt,
			headerKDFParams: params,
			headerSalt:      hex.EncodeToString(salt),
			headerCipher:    cipherAES256GCM,
			headerNonce:     hex.EncodeToString(nonce),
		},
		Bytes: gcm.Seal(nil, nonce, der, []byte(params)),
	}

	return pem.EncodeToMemory(block), nil
}

// decryptPrivateKeyBlock returns the PKCS#8 DER held in a protected block.
func decryptPrivateKeyBlock(block *pem.Block, passphrase []byte) ([]byte, error) {
	if kdf := block.Headers[headerKDF]; kdf != kdfScrypt {
		return nil, fmt.Errorf("%w: unsupported key derivation %q", envelope.ErrKeyFormat, kdf)
	}

	if c := block.Headers[headerCipher]; c != cipherAES256GCM {
		return nil, fmt.Errorf("%w: unsupported key cipher %q", envelope.ErrKeyFormat, c)
	}

	params := block.Headers[headerKDFParams]
	n, r, p, err := parseScryptParams(params)
	if err != nil {
		return nil, err
	}

	salt, err := hex.DecodeString(block.Headers[headerSalt])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: invalid salt", envelope.ErrKeyFormat)
	}

	gcm, err := passphraseAEAD(passphrase, salt, n, r, p)
	if err != nil {
		return nil, err
	}

	nonce, err := hex.DecodeString(block.Headers[headerNonce])
	if err != nil || len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: invalid nonce", envelope.ErrKeyFormat)
	}

	der, err := gcm.Open(nil, nonce, block.Bytes, []byte(params))
	if err != nil {
		return nil, ErrBadPassphrase
	}

	return der, nil
}

func passphraseAEAD(passphrase, salt []byte, n, r, p int) (cipher.AEAD, error) {
	key, err := scrypt.Key(passphrase, salt, n, r, p, scryptKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key from passphrase: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return gcm, nil
}

func formatScryptParams(n, r, p int) string {
	return fmt.Sprintf("N=%d,r=%d,p=%d", n, r, p)
}

func parseScryptParams(s string) (n, r, p int, err error) {
	if _, err := fmt.Sscanf(s, "N=%d,r=%d,p=%d", &n, &r, &p); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: invalid scrypt parameters %q", envelope.ErrKeyFormat, s)
	}

	// scrypt itself requires N to be a power of two greater than one.
	if n <= 1 || n > maxScryptN || n&(n-1) != 0 {
		return 0, 0, 0, fmt.Errorf("%w: scrypt N=%d out of range", envelope.ErrKeyFormat, n)
	}

	if r < 1 || r > maxScryptR || p < 1 || p > maxScryptP {
		return 0, 0, 0, fmt.Errorf("%w: scrypt r=%d p=%d out of range", envelope.ErrKeyFormat, r, p)
	}

	if formatScryptParams(n, r, p) != s {
		return 0, 0, 0, fmt.Errorf("%w: invalid scrypt parameters %q", envelope.ErrKeyFormat, s)
	}

	return n, r, p, nil
}
