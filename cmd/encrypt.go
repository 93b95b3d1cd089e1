package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/jetstack/sealer/internal/envelope"
	"github.com/jetstack/sealer/internal/envelope/keys"
	"github.com/jetstack/sealer/pkg/config"
	"github.com/jetstack/sealer/pkg/logs"
)

var (
	encryptOutput  string
	encryptMessage string
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt [FILE]...",
	Short: "Encrypt files, standard input or a message for a public key",
	Long: `Encrypt data so that only the holder of the matching private key can read it.

Each FILE is encrypted to FILE.sealed, or to --output when a single file is
given. Files are processed in parallel. With no FILE, or when FILE is -,
standard input is encrypted to standard output.

With --message the text is sealed as a single envelope and printed as base64.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := klog.FromContext(ctx).WithName("encrypt")

		pub, err := keys.LoadPublic(cfg.PublicKey)
		if err != nil {
			return err
		}
		opts, err := cfg.EnvelopeOptions()
		if err != nil {
			return err
		}
		enc, err := envelope.NewEncryptor(pub, opts...)
		if err != nil {
			return err
		}

		if log.V(logs.Debug).Enabled() {
			fingerprint, err := keys.Fingerprint(pub)
			if err != nil {
				return err
			}
			log.V(logs.Debug).Info("Using public key", "path", cfg.PublicKey, "fingerprint", fingerprint, "bits", pub.N.BitLen(), "cipher", enc.Cipher())
		}

		if cmd.Flags().Changed("message") {
			if len(args) > 0 {
				return fmt.Errorf("--message cannot be combined with input files")
			}
			sealed, err := enc.Encrypt([]byte(encryptMessage))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(sealed))
			return err
		}

		if isStdio(args) {
			return streamStdio(ctx, enc.EncryptStream, cmd.OutOrStdout(), cmd.InOrStdin(), encryptOutput)
		}

		jobs, err := fileJobs(args, encryptOutput, sealedName)
		if err != nil {
			return err
		}
		if err := enc.EncryptFiles(ctx, jobs, cfg.Parallelism); err != nil {
			return err
		}
		log.Info("Encrypted files", "count", len(jobs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(encryptCmd)
	encryptCmd.Flags().String("public-key", config.DefaultPublicKey, "Path of the public key (PEM, JWK or JWK Set) to encrypt for.")
	encryptCmd.Flags().String("cipher", envelope.AES256GCM.String(), fmt.Sprintf("Authenticated cipher, one of %v.", envelope.Ciphers))
	encryptCmd.Flags().Int("chunk-size", envelope.DefaultChunkSize, "Plaintext bytes per chunk when encrypting files and streams.")
	encryptCmd.Flags().Int("parallelism", 0, "Number of files encrypted at once, 0 means one per CPU.")
	encryptCmd.Flags().StringVarP(
		&encryptOutput,
		"output",
		"o",
		"",
		"Output path, only valid with a single input.",
	)
	encryptCmd.Flags().StringVarP(
		&encryptMessage,
		"message",
		"m",
		"",
		"Encrypt this text instead of files and print the envelope as base64.",
	)
}
