package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/jetstack/sealer/pkg/config"
	"github.com/jetstack/sealer/pkg/logs"
	"github.com/jetstack/sealer/pkg/version"
)

const envPrefix = "SEALER_"

var (
	cfgFile string

	// cfg is resolved before any subcommand runs: defaults, then the config
	// file, then flags and environment variables.
	cfg config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sealer",
	Short: "Hybrid RSA envelope encryption for messages and files",
	Long: `Sealer encrypts data for the holder of an RSA private key.

Each message or file is encrypted with a fresh 256-bit session key using an
authenticated cipher (AES-256-GCM or ChaCha20-Poly1305). The session key is
wrapped with RSA-OAEP (SHA-256) and stored alongside the ciphertext. Files and
streams are processed in chunks, each verified before it is written.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setFlagsFromEnv(envPrefix, cmd.Flags()); err != nil {
			return err
		}
		if err := logs.Initialize(); err != nil {
			return err
		}

		loaded, err := loadConfig(cmd.Context(), cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&cfgFile,
		"config",
		"c",
		"",
		fmt.Sprintf("Config file location, without this flag we search for `%s.yaml` in the current working directory and '%s'.", config.FileName, config.Dir),
	)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	logs.AddFlags(rootCmd.PersistentFlags())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", userMessage(err))
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}
	klog.Flush()
}

// loadConfig finds the config file with viper, parses it and applies the
// flags that were set on the command line or from the environment.
func loadConfig(ctx context.Context, fs *pflag.FlagSet) (config.Config, error) {
	log := klog.FromContext(ctx).WithName("config")

	loaded := config.Default()
	path := cfgFile
	if path == "" {
		v := viper.New()
		currentWorkingDirectory, err := os.Getwd()
		// Ignore any errors silently, but only search the
		// current working directory if we can resolve it.
		if err == nil {
			v.AddConfigPath(currentWorkingDirectory)
		}
		v.AddConfigPath(config.ExpandHome(config.Dir))
		v.SetConfigName(config.FileName)
		v.SetConfigType("yaml")

		err = v.ReadInConfig()
		switch {
		case err == nil:
			path = v.ConfigFileUsed()
		case errors.As(err, &viper.ConfigFileNotFoundError{}):
			// Not having a configuration file is the usual case.
			log.V(logs.Debug).Info("Not using a config file")
		default:
			return loaded, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if path != "" {
		log.V(logs.Debug).Info("Using config file", "path", path)
		var err error
		loaded, err = config.LoadFile(path)
		if err != nil {
			return loaded, err
		}
	}

	if err := applyFlags(&loaded, fs); err != nil {
		return loaded, err
	}

	if debug := log.V(logs.Debug); debug.Enabled() {
		dump, err := loaded.Dump()
		if err != nil {
			return loaded, err
		}
		debug.Info("Loaded configuration", "config", dump)
	}
	return loaded, nil
}

// applyFlags overrides the config fields whose flags were set explicitly.
// The flags share their names with the YAML keys.
func applyFlags(c *config.Config, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "private-key":
			c.PrivateKey = f.Value.String()
		case "public-key":
			c.PublicKey = f.Value.String()
		case "passphrase-file":
			c.PassphraseFile = f.Value.String()
		case "cipher":
			c.Cipher = f.Value.String()
		case "key-bits":
			c.KeyBits, err = fs.GetInt(f.Name)
		case "chunk-size":
			c.ChunkSize, err = fs.GetInt(f.Name)
		case "parallelism":
			c.Parallelism, err = fs.GetInt(f.Name)
		}
	})
	if err != nil {
		return err
	}

	c.Normalize()
	return c.Validate()
}

// setFlagsFromEnv sets every flag that was not given on the command line from
// the environment variable named after it, e.g. SEALER_PUBLIC_KEY for
// --public-key.
func setFlagsFromEnv(prefix string, fs *pflag.FlagSet) error {
	set := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) {
		set[f.Name] = true
	})
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		// ignore flags set from the commandline
		if set[f.Name] || err != nil {
			return
		}
		// remove trailing _ to reduce common errors with the prefix, i.e. people setting it to MY_PROG_
		cleanPrefix := strings.TrimSuffix(prefix, "_")
		name := fmt.Sprintf("%s_%s", cleanPrefix, strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_"))
		if e, ok := os.LookupEnv(name); ok {
			if setErr := fs.Set(f.Name, e); setErr != nil {
				err = fmt.Errorf("invalid value %q in %s: %w", e, name, setErr)
			}
		}
	})
	return err
}
