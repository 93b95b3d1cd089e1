package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/jetstack/sealer/internal/envelope/keys"
	"github.com/jetstack/sealer/pkg/config"
	"github.com/jetstack/sealer/pkg/logs"
)

var (
	keygenForce   bool
	keygenProtect bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate and save an RSA key pair",
	Long: `Generate an RSA key pair and save it as PEM files.

The private key is written with mode 0600, the public key with mode 0644.
Existing key files are never replaced unless --force is given: envelopes
sealed for the old key can no longer be opened once it is gone.

With --protect or --passphrase-file the private key is encrypted with a key
derived from a passphrase.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := klog.FromContext(cmd.Context()).WithName("keygen")

		opts := keys.SaveOptions{Overwrite: keygenForce}
		if keygenProtect || cfg.PassphraseFile != "" {
			passphrase, err := readPassphrase(cfg.PassphraseFile, true)
			if err != nil {
				return err
			}
			defer clear(passphrase)
			opts.Passphrase = passphrase
		}

		log.V(logs.Debug).Info("Generating key pair", "bits", cfg.KeyBits)
		kp, err := keys.Generate(cfg.KeyBits)
		if err != nil {
			return err
		}

		if err := keys.Save(kp, cfg.PrivateKey, cfg.PublicKey, opts); err != nil {
			return err
		}

		fingerprint, err := keys.Fingerprint(kp.Public())
		if err != nil {
			return err
		}
		log.V(logs.Debug).Info("Saved key pair", "privateKey", cfg.PrivateKey, "publicKey", cfg.PublicKey, "fingerprint", fingerprint, "protected", opts.Passphrase != nil)

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Private key:", cfg.PrivateKey)
		fmt.Fprintln(out, "Public key: ", cfg.PublicKey)
		fmt.Fprintln(out, "Fingerprint:", fingerprint)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().String("private-key", config.DefaultPrivateKey, "Path of the private key to write.")
	keygenCmd.Flags().String("public-key", config.DefaultPublicKey, "Path of the public key to write.")
	keygenCmd.Flags().Int("key-bits", keys.DefaultKeySize, fmt.Sprintf("Size of the RSA modulus in bits, one of %v.", keys.SupportedKeySizes))
	keygenCmd.Flags().String("passphrase-file", "", "File holding the passphrase that protects the private key.")
	keygenCmd.Flags().BoolVar(
		&keygenProtect,
		"protect",
		false,
		"Prompt for a passphrase that protects the private key.",
	)
	keygenCmd.Flags().BoolVar(
		&keygenForce,
		"force",
		false,
		"Replace existing key files.",
	)
}
