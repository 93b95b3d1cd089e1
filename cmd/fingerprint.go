package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jetstack/sealer/internal/envelope/keys"
	"github.com/jetstack/sealer/pkg/config"
)

var fingerprintJWK bool

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint [KEY]...",
	Short: "Print the fingerprint of public keys",
	Long: `Print the RFC 7638 SHA-256 thumbprint of each public KEY, or of the
configured public key. The thumbprint does not depend on how the key is
encoded, so a PEM file and a JWK of the same key print the same value.

With --jwk the key is printed as a JWK instead, with the thumbprint as its
key ID.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := args
		if len(paths) == 0 {
			paths = []string{cfg.PublicKey}
		}

		out := cmd.OutOrStdout()
		for _, path := range paths {
			pub, err := keys.LoadPublic(path)
			if err != nil {
				return err
			}

			if fingerprintJWK {
				data, err := keys.MarshalJWK(pub)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				continue
			}

			fingerprint, err := keys.Fingerprint(pub)
			if err != nil {
				return err
			}
			if len(paths) == 1 {
				fmt.Fprintln(out, fingerprint)
			} else {
				fmt.Fprintf(out, "%s  %s\n", fingerprint, path)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)
	fingerprintCmd.Flags().String("public-key", config.DefaultPublicKey, "Path of the public key used when no KEY is given.")
	fingerprintCmd.Flags().BoolVar(
		&fingerprintJWK,
		"jwk",
		false,
		"Print the keys as JWKs.",
	)
}
