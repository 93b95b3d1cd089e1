package cmd

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/term"

	"github.com/jetstack/sealer/internal/envelope"
	"github.com/jetstack/sealer/internal/envelope/keys"
	"github.com/jetstack/sealer/pkg/version"
)

const decryptionFailed = "decryption failed: wrong key or tampered data"

// userMessage turns an error into the text shown to the user. Failures to
// unwrap the session key and failures to authenticate the data are reported
// with the same words.
func userMessage(err error) string {
	switch {
	case errors.Is(err, envelope.ErrKeyUnwrap), errors.Is(err, envelope.ErrAuthentication):
		return decryptionFailed
	case errors.Is(err, keys.ErrKeyExists):
		return fmt.Sprintf("%s; use --force to replace it, envelopes sealed for the old key can no longer be opened", err)
	case errors.Is(err, envelope.ErrKeyNotFound):
		return fmt.Sprintf("%s; run `sealer keygen` to create a key pair", err)
	case errors.Is(err, keys.ErrPassphraseRequired):
		return fmt.Sprintf("%s; use --passphrase-file or run sealer from a terminal", err)
	case errors.Is(err, envelope.ErrMalformedEnvelope):
		return fmt.Sprintf("input is not a sealed envelope: %s", err)
	default:
		return err.Error()
	}
}

func printVersion(w io.Writer, verbose bool) {
	fmt.Fprintln(w, "Sealer version: ", version.SealerVersion, runtime.GOOS+"/"+runtime.GOARCH)
	if verbose {
		fmt.Fprintln(w, "  Commit: ", version.Commit)
		fmt.Fprintln(w, "  Built:  ", version.BuildDate)
		fmt.Fprintln(w, "  Go:     ", runtime.Version())
	}
}

// readPassphrase reads the passphrase from path, or prompts for it on the
// terminal when path is empty. With confirm set the prompt asks twice.
func readPassphrase(path string, confirm bool) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase file: %w", err)
		}
		passphrase := bytes.TrimRight(data, "\r\n")
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("passphrase file %s is empty", path)
		}
		return passphrase, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, keys.ErrPassphraseRequired
	}

	passphrase, err := promptPassphrase(fd, "Passphrase: ")
	if err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, errors.New("the passphrase cannot be empty")
	}
	if confirm {
		again, err := promptPassphrase(fd, "Confirm passphrase: ")
		if err != nil {
			return nil, err
		}
		defer clear(again)
		if !bytes.Equal(passphrase, again) {
			clear(passphrase)
			return nil, errors.New("the passphrases do not match")
		}
	}
	return passphrase, nil
}

func promptPassphrase(fd int, prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// loadPrivateKey loads the configured private key, asking for a passphrase
// only if the key is protected.
func loadPrivateKey() (*rsa.PrivateKey, error) {
	key, err := keys.LoadPrivate(cfg.PrivateKey)
	if !errors.Is(err, keys.ErrPassphraseRequired) {
		return key, err
	}

	passphrase, err := readPassphrase(cfg.PassphraseFile, false)
	if err != nil {
		return nil, err
	}
	defer clear(passphrase)

	return keys.LoadPrivateWithPassphrase(cfg.PrivateKey, passphrase)
}
