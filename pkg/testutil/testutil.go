package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// SmallRSAKey1024 is a hardcoded 1024-bit RSA public key in PEM format (PKIX)
// used for testing key size validation. This key is intentionally weak and should
// only be used for testing purposes.
// This is hardcoded rather than generated in order to save compute, and also on the
// assumption that future Go releases might restrict the ability to generate such small keys.
const SmallRSAKey1024 = `-----BEGIN PUBLIC KEY-----
MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQDCNDoCM0OBt4HFxFxyU50FYsuZ
gK+lgel/Jlzb+ghkWpCL1Vk3Au7aet4KxNxQh5dFRxtMU7pe6fC5eZtdL3+0TCUu
XAUVgMhTRn3ZXlEmJXosuiFQ2y4+3nbWL51OxXRf3jsieSVqr4fbceakuOKXp4vX
wgiguV3/XqaysHs1uwIDAQAB
-----END PUBLIC KEY-----`

var (
	keyOnce  [2]sync.Once
	testKeys [2]*rsa.PrivateKey
)

// TestKey returns a singleton 2048-bit RSA private key, to avoid needing to
// generate a new key for each test.
func TestKey() *rsa.PrivateKey {
	return singletonKey(0)
}

// OtherTestKey returns a second singleton 2048-bit key, distinct from
// TestKey, for wrong-key tests.
func OtherTestKey() *rsa.PrivateKey {
	return singletonKey(1)
}

func singletonKey(i int) *rsa.PrivateKey {
	keyOnce[i].Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic("failed to generate test RSA key: " + err.Error())
		}

		testKeys[i] = key
	})

	return testKeys[i]
}

// SmallPublicKey parses SmallRSAKey1024.
// NB: a future Go update might restrict the ability to parse small keys;
// if that happens, the tests using it will need to be changed.
func SmallPublicKey(t testing.TB) *rsa.PublicKey {
	t.Helper()

	block, _ := pem.Decode([]byte(SmallRSAKey1024))
	require.NotNil(t, block, "failed to decode PEM block")

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err, "failed to parse RSA public key")

	rsaPub, ok := pub.(*rsa.PublicKey)
	require.True(t, ok, "key should be an RSA public key")

	return rsaPub
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(t testing.TB, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

// WriteFile writes data to name inside dir and returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0600))

	return path
}

// AssertNoFile fails the test if anything exists at path.
func AssertNoFile(t testing.TB, path string) {
	t.Helper()

	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist, "expected no file at %s", path)
}

// AssertDirEntries fails the test unless dir holds exactly the named entries.
// It is used to check that no temporary files were left behind.
func AssertDirEntries(t testing.TB, dir string, want ...string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.Name())
	}
	require.ElementsMatch(t, want, got)
}

// FailingReader returns err from every Read.
type FailingReader struct {
	Err error
}

func (r FailingReader) Read([]byte) (int, error) {
	return 0, r.Err
}
