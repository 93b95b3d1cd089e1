// Package config holds the settings shared by the sealer commands. Settings
// are read from a YAML file and may be overridden by command line flags.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/jetstack/sealer/internal/envelope"
	"github.com/jetstack/sealer/internal/envelope/keys"
)

const (
	// FileName is the base name, without extension, of the config file
	// searched for in the working directory and in Dir.
	FileName = "sealer"

	// Dir is the per-user directory holding the config file and the default
	// key pair.
	Dir = "~/.sealer"

	DefaultPrivateKey = Dir + "/id_rsa"
	DefaultPublicKey  = Dir + "/id_rsa.pub"
)

// Config wraps the options for a run of sealer.
type Config struct {
	// PrivateKey is the path of the private key used by keygen and decrypt.
	PrivateKey string `yaml:"private-key"`
	// PublicKey is the path of the public key used by keygen and encrypt.
	PublicKey string `yaml:"public-key"`
	// PassphraseFile, if set, holds the passphrase protecting the private key.
	PassphraseFile string `yaml:"passphrase-file,omitempty"`
	// KeyBits is the RSA modulus size used by keygen.
	KeyBits int `yaml:"key-bits"`
	// Cipher is the AEAD name, see envelope.ParseCipher.
	Cipher string `yaml:"cipher"`
	// ChunkSize is the plaintext chunk size of streams.
	ChunkSize int `yaml:"chunk-size"`
	// Parallelism bounds the number of files processed at once. Zero means
	// one per CPU.
	Parallelism int `yaml:"parallelism"`
}

// Default returns the configuration used when no config file is found.
func Default() Config {
	return Config{
		PrivateKey: DefaultPrivateKey,
		PublicKey:  DefaultPublicKey,
		KeyBits:    keys.DefaultKeySize,
		Cipher:     envelope.AES256GCM.String(),
		ChunkSize:  envelope.DefaultChunkSize,
	}
}

// Dump generates a YAML string of the Config object
func (c *Config) Dump() (string, error) {
	d, err := yaml.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate YAML dump of config")
	}

	return string(d), nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.PrivateKey == "" {
		result = multierror.Append(result, fmt.Errorf("private-key is required"))
	}

	if c.PublicKey == "" {
		result = multierror.Append(result, fmt.Errorf("public-key is required"))
	}

	if c.PrivateKey != "" && c.PrivateKey == c.PublicKey {
		result = multierror.Append(result, fmt.Errorf("private-key and public-key must be different files"))
	}

	if !slices.Contains(keys.SupportedKeySizes, c.KeyBits) {
		result = multierror.Append(result, fmt.Errorf("key-bits must be one of %v, got %d", keys.SupportedKeySizes, c.KeyBits))
	}

	if _, err := envelope.ParseCipher(c.Cipher); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "invalid cipher"))
	}

	if c.ChunkSize < envelope.MinChunkSize || c.ChunkSize > envelope.MaxChunkSize {
		result = multierror.Append(result, fmt.Errorf("chunk-size must be between %d and %d bytes, got %d", envelope.MinChunkSize, envelope.MaxChunkSize, c.ChunkSize))
	}

	if c.Parallelism < 0 {
		result = multierror.Append(result, fmt.Errorf("parallelism cannot be negative, got %d", c.Parallelism))
	}

	return result.ErrorOrNil()
}

// Normalize expands a leading "~/" in every path.
func (c *Config) Normalize() {
	c.PrivateKey = ExpandHome(c.PrivateKey)
	c.PublicKey = ExpandHome(c.PublicKey)
	c.PassphraseFile = ExpandHome(c.PassphraseFile)
}

// EnvelopeOptions returns the envelope options selected by the configuration.
func (c *Config) EnvelopeOptions() ([]envelope.Option, error) {
	cipher, err := envelope.ParseCipher(c.Cipher)
	if err != nil {
		return nil, err
	}

	return []envelope.Option{
		envelope.WithCipher(cipher),
		envelope.WithChunkSize(c.ChunkSize),
	}, nil
}

// ParseConfig reads config on top of the defaults. Unknown fields are
// rejected. Paths are expanded and the result is validated.
func ParseConfig(data []byte) (Config, error) {
	config := Default()

	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return config, errors.Wrap(err, "failed to parse config")
	}

	config.Normalize()

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// LoadFile reads and parses the config file at path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return config, errors.Wrapf(err, "invalid config file %s", path)
	}

	return config, nil
}

// HomeDir returns the path of the home directory of the user the
// application is running as. $HOME takes precedence over the user database.
func HomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}

	usr, err := user.Current()
	if err != nil {
		return ""
	}
	return usr.HomeDir
}

// ExpandHome takes a path starting with a '~' and expands this to a
// full path using the home directory of the user the application
// is running as.
func ExpandHome(path string) string {
	if path == "~" {
		return HomeDir()
	}

	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(HomeDir(), rest)
	}

	return path
}
