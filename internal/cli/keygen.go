package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/theamanone/encstream/internal/crypto"
)

func newKeygenCmd(a *app) *cobra.Command {
	var (
		outputDir string
		filename  string
		keyID     string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new shared secret",
		Long: `Generate a new random shared secret (32 bytes, base64url encoded).

Without --outputdir the secret is printed so it can be put in ENCSTREAM_SECRET.
With --outputdir it is saved as a single-key JWK set (kty "oct") that can be passed
to the server and the CLI with SECRET_KEY_PATH or --key-file.

Example:
  encstream keygen --outputdir ./keys --filename secret.jwk`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := crypto.GenerateSecret()
			if err != nil {
				return err
			}

			if outputDir == "" {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), secret)
				return err
			}

			if err := crypto.SaveSecretToJWKFile(secret, keyID, outputDir, filename); err != nil {
				return fmt.Errorf("failed to save secret: %w", err)
			}

			path := filepath.Join(outputDir, filename)
			a.appLogger.Info("secret saved", slog.String("path", path))
			fmt.Fprintf(cmd.OutOrStdout(), "secret written to %s\n", path)
			fmt.Fprintln(cmd.ErrOrStderr(), "the key file is not encrypted: keep it private")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "outputdir", "o", "", "directory to write the JWK file to (prints the secret when empty)")
	cmd.Flags().StringVarP(&filename, "filename", "f", "secret.jwk", "JWK file name")
	cmd.Flags().StringVarP(&keyID, "kid", "k", "", "key ID (default: random UUID)")

	return cmd
}
