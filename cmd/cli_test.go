package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetstack/sealer/pkg/testutil"
)

type result struct {
	stdout string
	stderr string
	err    error
}

// runSealer executes the test binary as a child process which runs sealer with
// args, so that every invocation starts with fresh global logging and flags.
func runSealer(t *testing.T, dir string, stdin []byte, env []string, args ...string) result {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, exe, "-test.run=^TestCLI$")
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(stdin)
	var (
		stdout bytes.Buffer
		stderr bytes.Buffer
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "GO_CHILD_ARGS="+strings.Join(args, "\n"))
	cmd.Env = append(cmd.Env, env...)
	err = cmd.Run()

	t.Logf("ARGS\n%q\n", args)
	t.Logf("STDERR\n%s\n", stderr.String())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func outputValue(t *testing.T, output, label string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if value, ok := strings.CutPrefix(line, label); ok {
			return strings.TrimSpace(value)
		}
	}
	require.Failf(t, "label not found", "%q not found in %q", label, output)
	return ""
}

func TestCLI(t *testing.T) {
	if args, found := os.LookupEnv("GO_CHILD_ARGS"); found {
		os.Args = append([]string{"sealer"}, strings.Split(args, "\n")...)
		Execute()
		os.Exit(0)
	}

	dir := t.TempDir()
	priv := filepath.Join(dir, "id_rsa")
	pub := filepath.Join(dir, "id_rsa.pub")
	passphraseFile := testutil.WriteFile(t, dir, "passphrase", []byte("correct horse battery staple\n"))
	decryptArgs := func(args ...string) []string {
		return append([]string{"decrypt", "--private-key", priv, "--passphrase-file", passphraseFile}, args...)
	}

	res := runSealer(t, dir, nil, nil, "keygen", "--key-bits=2048", "--private-key", priv, "--public-key", pub, "--passphrase-file", passphraseFile)
	require.NoError(t, res.err)
	fingerprint := outputValue(t, res.stdout, "Fingerprint:")
	assert.Len(t, fingerprint, 43)

	privInfo, err := os.Stat(priv)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), privInfo.Mode().Perm())

	t.Run("keygen refuses to overwrite", func(t *testing.T) {
		res := runSealer(t, dir, nil, nil, "keygen", "--key-bits=2048", "--private-key", priv, "--public-key", pub)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "key file already exists")
		assert.Contains(t, res.stderr, "use --force")

		// The key pair is untouched.
		res = runSealer(t, dir, nil, nil, "fingerprint", pub)
		require.NoError(t, res.err)
		assert.Equal(t, fingerprint+"\n", res.stdout)
	})

	t.Run("keygen with default paths", func(t *testing.T) {
		home := t.TempDir()
		env := []string{"HOME=" + home}

		res := runSealer(t, home, nil, env, "keygen", "--key-bits=2048")
		require.NoError(t, res.err)
		keyDir := filepath.Join(home, ".sealer")
		assert.Equal(t, filepath.Join(keyDir, "id_rsa"), outputValue(t, res.stdout, "Private key:"))
		testutil.AssertDirEntries(t, keyDir, "id_rsa", "id_rsa.pub")

		info, err := os.Stat(keyDir)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

		res = runSealer(t, home, nil, env, "encrypt", "--message", "attack at dawn")
		require.NoError(t, res.err)
		res = runSealer(t, home, nil, env, "decrypt", "--message", strings.TrimSpace(res.stdout))
		require.NoError(t, res.err)
		assert.Equal(t, "attack at dawn", res.stdout)
	})

	t.Run("fingerprint", func(t *testing.T) {
		res := runSealer(t, dir, nil, nil, "fingerprint", "--public-key", pub)
		require.NoError(t, res.err)
		assert.Equal(t, fingerprint+"\n", res.stdout)

		res = runSealer(t, dir, nil, nil, "fingerprint", "--jwk", pub)
		require.NoError(t, res.err)
		jwkPath := testutil.WriteFile(t, t.TempDir(), "key.jwk", []byte(res.stdout))
		res = runSealer(t, dir, nil, nil, "fingerprint", jwkPath)
		require.NoError(t, res.err)
		assert.Equal(t, fingerprint+"\n", res.stdout)
	})

	t.Run("files", func(t *testing.T) {
		data := t.TempDir()
		want := testutil.RandomBytes(t, 200<<10)
		report := testutil.WriteFile(t, data, "report.bin", want)
		empty := testutil.WriteFile(t, data, "empty.txt", nil)

		res := runSealer(t, dir, nil, nil, "encrypt", "--public-key", pub, "--chunk-size=1024", "--parallelism=2", report, empty)
		require.NoError(t, res.err)
		assert.Empty(t, res.stdout)

		require.NoError(t, os.Remove(report))
		require.NoError(t, os.Remove(empty))
		testutil.AssertDirEntries(t, data, "report.bin.sealed", "empty.txt.sealed")

		res = runSealer(t, dir, nil, nil, decryptArgs(report+".sealed", empty+".sealed")...)
		require.NoError(t, res.err)

		got, err := os.ReadFile(report)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		got, err = os.ReadFile(empty)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("output name", func(t *testing.T) {
		data := t.TempDir()
		src := testutil.WriteFile(t, data, "notes.txt", []byte("meet at the old mill"))

		res := runSealer(t, dir, nil, nil, "encrypt", "--public-key", pub, "-o", filepath.Join(data, "notes.enc"), src)
		require.NoError(t, res.err)

		res = runSealer(t, dir, nil, nil, decryptArgs(filepath.Join(data, "notes.enc"))...)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "use --output")

		out := filepath.Join(data, "notes.out")
		res = runSealer(t, dir, nil, nil, decryptArgs("-o", out, filepath.Join(data, "notes.enc"))...)
		require.NoError(t, res.err)
		got, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "meet at the old mill", string(got))

		res = runSealer(t, dir, nil, nil, "encrypt", "--public-key", pub, "-o", out, src, src)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "--output can only be used with a single input file")
	})

	t.Run("message", func(t *testing.T) {
		res := runSealer(t, dir, nil, nil, "encrypt", "--public-key", pub, "--message", "attack at dawn")
		require.NoError(t, res.err)
		sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(res.stdout))
		require.NoError(t, err)
		assert.Len(t, sealed, 298)

		res = runSealer(t, dir, nil, nil, decryptArgs("--message", strings.TrimSpace(res.stdout))...)
		require.NoError(t, res.err)
		assert.Equal(t, "attack at dawn", res.stdout)

		res = runSealer(t, dir, nil, nil, decryptArgs("--message", "not base64!")...)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "input is not a sealed envelope")
	})

	t.Run("standard input", func(t *testing.T) {
		want := testutil.RandomBytes(t, 100<<10)

		res := runSealer(t, dir, want, nil, "encrypt", "--public-key", pub)
		require.NoError(t, res.err)
		assert.True(t, strings.HasPrefix(res.stdout, "SEALER"))

		res = runSealer(t, dir, []byte(res.stdout), nil, decryptArgs("-")...)
		require.NoError(t, res.err)
		assert.Equal(t, want, []byte(res.stdout))
	})

	t.Run("tampered input", func(t *testing.T) {
		data := t.TempDir()
		src := testutil.WriteFile(t, data, "ledger.csv", testutil.RandomBytes(t, 10<<10))
		res := runSealer(t, dir, nil, nil, "encrypt", "--public-key", pub, "--chunk-size=1024", src)
		require.NoError(t, res.err)
		require.NoError(t, os.Remove(src))

		sealed, err := os.ReadFile(src + ".sealed")
		require.NoError(t, err)
		sealed[len(sealed)-100] ^= 0x01
		require.NoError(t, os.WriteFile(src+".sealed", sealed, 0o600))

		res = runSealer(t, dir, nil, nil, decryptArgs(src+".sealed")...)
		require.Error(t, res.err)
		assert.Equal(t, "Error: decryption failed: wrong key or tampered data\n", lastLine(res.stderr))
		testutil.AssertNoFile(t, src)
		assert.NotContains(t, res.stderr, "incomplete output")

		// Verified chunks have already reached stdout when the tampered one is found.
		res = runSealer(t, dir, sealed, nil, decryptArgs()...)
		require.Error(t, res.err)
		assert.NotEmpty(t, res.stdout)
		assert.Contains(t, res.stderr, "incomplete output was written to stdout and must be discarded")
		assert.Equal(t, "Error: decryption failed: wrong key or tampered data\n", lastLine(res.stderr))

		// Nothing is written when the first chunk fails.
		res = runSealer(t, dir, sealed[:100], nil, decryptArgs()...)
		require.Error(t, res.err)
		assert.Empty(t, res.stdout)
		assert.NotContains(t, res.stderr, "incomplete output")
	})

	t.Run("wrong key", func(t *testing.T) {
		other := t.TempDir()
		otherPriv := filepath.Join(other, "id_rsa")
		res := runSealer(t, dir, nil, nil, "keygen", "--key-bits=2048", "--private-key", otherPriv, "--public-key", filepath.Join(other, "id_rsa.pub"))
		require.NoError(t, res.err)

		res = runSealer(t, dir, nil, nil, "encrypt", "--public-key", pub, "--message", "attack at dawn")
		require.NoError(t, res.err)

		// The message is the same as for tampered data.
		res = runSealer(t, dir, nil, nil, "decrypt", "--private-key", otherPriv, "--message", strings.TrimSpace(res.stdout))
		require.Error(t, res.err)
		assert.Equal(t, "Error: decryption failed: wrong key or tampered data\n", lastLine(res.stderr))
	})

	t.Run("protected key needs a passphrase", func(t *testing.T) {
		res := runSealer(t, dir, nil, nil, "decrypt", "--private-key", priv, "--message", "AAAA")
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "requires a passphrase")

		wrong := testutil.WriteFile(t, t.TempDir(), "wrong", []byte("hunter2"))
		res = runSealer(t, dir, nil, nil, "decrypt", "--private-key", priv, "--passphrase-file", wrong, "--message", "AAAA")
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "incorrect passphrase")
	})

	t.Run("missing key", func(t *testing.T) {
		res := runSealer(t, dir, nil, nil, "encrypt", "--public-key", filepath.Join(dir, "nope.pub"), "--message", "hi")
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "key file not found")
		assert.Contains(t, res.stderr, "sealer keygen")
	})

	t.Run("config file, flags and environment", func(t *testing.T) {
		work := t.TempDir()
		testutil.WriteFile(t, work, "sealer.yaml", []byte(testutil.Undent(`
			private-key: `+priv+`
			public-key: `+pub+`
			passphrase-file: `+passphraseFile+`
			cipher: chacha20-poly1305
		`)))

		res := runSealer(t, work, nil, nil, "encrypt", "--message", "attack at dawn")
		require.NoError(t, res.err)
		sealed := strings.TrimSpace(res.stdout)

		res = runSealer(t, work, nil, nil, "decrypt", "--message", sealed)
		require.NoError(t, res.err)
		assert.Equal(t, "attack at dawn", res.stdout)

		// The effective configuration is logged at the debug level.
		res = runSealer(t, work, nil, nil, "encrypt", "--log-level=1", "--message", "attack at dawn")
		require.NoError(t, res.err)
		assert.Contains(t, res.stderr, "Loaded configuration")
		assert.Contains(t, res.stderr, "cipher: chacha20-poly1305")
		assert.Contains(t, res.stderr, "private-key: "+priv)

		// A flag overrides the config file.
		res = runSealer(t, work, nil, nil, "decrypt", "--cipher", "aes-256-gcm", "--message", sealed)
		require.Error(t, res.err)
		assert.Equal(t, "Error: decryption failed: wrong key or tampered data\n", lastLine(res.stderr))

		// So does the environment.
		res = runSealer(t, work, nil, []string{"SEALER_CIPHER=aes-256-gcm"}, "decrypt", "--message", sealed)
		require.Error(t, res.err)
		assert.Equal(t, "Error: decryption failed: wrong key or tampered data\n", lastLine(res.stderr))

		// An explicit config file is used instead of the one in the working directory.
		explicit := testutil.WriteFile(t, t.TempDir(), "other.yaml", []byte("cipher: aes-256-gcm\n"))
		res = runSealer(t, work, nil, nil, "decrypt", "--config", explicit, "--private-key", priv, "--passphrase-file", passphraseFile, "--message", sealed)
		require.Error(t, res.err)
		assert.Equal(t, "Error: decryption failed: wrong key or tampered data\n", lastLine(res.stderr))
	})

	t.Run("invalid config", func(t *testing.T) {
		work := t.TempDir()
		testutil.WriteFile(t, work, "sealer.yaml", []byte("cipher: rot13\nkey-bits: 1024\n"))

		res := runSealer(t, work, nil, nil, "fingerprint", pub)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "invalid config file")
		assert.Contains(t, res.stderr, `unknown cipher "rot13"`)
		assert.Contains(t, res.stderr, "key-bits must be one of")
	})

	t.Run("version", func(t *testing.T) {
		res := runSealer(t, dir, nil, nil, "version", "--verbose")
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "Sealer version:")
		assert.Contains(t, res.stdout, "Go:")
	})
}

func lastLine(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return s[strings.LastIndex(s, "\n")+1:] + "\n"
}
