package cmd

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/jetstack/sealer/internal/envelope"
	"github.com/jetstack/sealer/internal/envelope/keys"
	"github.com/jetstack/sealer/pkg/config"
	"github.com/jetstack/sealer/pkg/logs"
)

var (
	decryptOutput  string
	decryptMessage string
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt [FILE]...",
	Short: "Decrypt files, standard input or a message with a private key",
	Long: `Decrypt data sealed for the configured private key.

Each FILE.sealed is decrypted to FILE, or to --output when a single file is
given. An output file is only created once every chunk has been verified.
With no FILE, or when FILE is -, standard input is decrypted to standard
output; each chunk is verified before it is written, so a failure can leave
a verified prefix on standard output.

With --message the base64 envelope printed by "sealer encrypt --message" is
decrypted. Single envelopes do not record their cipher, so --cipher must
match the one used to encrypt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := klog.FromContext(ctx).WithName("decrypt")

		priv, err := loadPrivateKey()
		if err != nil {
			return err
		}
		opts, err := cfg.EnvelopeOptions()
		if err != nil {
			return err
		}
		dec, err := envelope.NewDecryptor(priv, opts...)
		if err != nil {
			return err
		}

		if log.V(logs.Debug).Enabled() {
			fingerprint, err := keys.Fingerprint(&priv.PublicKey)
			if err != nil {
				return err
			}
			log.V(logs.Debug).Info("Using private key", "path", cfg.PrivateKey, "fingerprint", fingerprint, "bits", priv.N.BitLen())
		}

		if cmd.Flags().Changed("message") {
			if len(args) > 0 {
				return fmt.Errorf("--message cannot be combined with input files")
			}
			sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(decryptMessage))
			if err != nil {
				return fmt.Errorf("%w: message is not valid base64", envelope.ErrMalformedEnvelope)
			}
			plaintext, err := dec.Decrypt(sealed)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(plaintext)
			return err
		}

		if isStdio(args) {
			return streamStdio(ctx, dec.DecryptStream, cmd.OutOrStdout(), cmd.InOrStdin(), decryptOutput)
		}

		jobs, err := fileJobs(args, decryptOutput, openedName)
		if err != nil {
			return err
		}
		if err := dec.DecryptFiles(ctx, jobs, cfg.Parallelism); err != nil {
			return err
		}
		log.Info("Decrypted files", "count", len(jobs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decryptCmd)
	decryptCmd.Flags().String("private-key", config.DefaultPrivateKey, "Path of the private key to decrypt with.")
	decryptCmd.Flags().String("passphrase-file", "", "File holding the passphrase of a protected private key.")
	decryptCmd.Flags().String("cipher", envelope.AES256GCM.String(), fmt.Sprintf("Authenticated cipher of --message envelopes, one of %v.", envelope.Ciphers))
	decryptCmd.Flags().Int("parallelism", 0, "Number of files decrypted at once, 0 means one per CPU.")
	decryptCmd.Flags().StringVarP(
		&decryptOutput,
		"output",
		"o",
		"",
		"Output path, only valid with a single input.",
	)
	decryptCmd.Flags().StringVarP(
		&decryptMessage,
		"message",
		"m",
		"",
		"Decrypt this base64 envelope instead of files and print the plaintext.",
	)
}
