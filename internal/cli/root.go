// Package cli implements the encstream command line tool.
package cli

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/theamanone/encstream/internal/config"
	"github.com/theamanone/encstream/internal/crypto"
	"github.com/theamanone/encstream/internal/logger"
	"github.com/theamanone/encstream/internal/version"
)

// app holds the state shared by the subcommands of one root command.
type app struct {
	cfg       *config.ClientEnvironment
	appLogger *slog.Logger

	// persistent flags; when either is set they replace ENCSTREAM_SECRET and SECRET_KEY_PATH
	secret  string
	keyFile string
}

// NewRootCmd builds the encstream command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:               "encstream",
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceUsage:      true,
		Short:             "Seal, open and send encrypted envelopes",
		Long: `encstream seals JSON values into signed, encrypted envelopes and opens them again.

The shared secret is read from --secret or --key-file, or from the ENCSTREAM_SECRET
or SECRET_KEY_PATH environment variables.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a.cfg, err = config.NewClientConfig()
			if err != nil {
				log.Printf("failed to load configuration: %v", err.Error())
				return err
			}

			a.appLogger = logger.NewLogger(cmd.ErrOrStderr(), logger.ParseLogLevel(a.cfg.LogLevel), a.cfg.Environment)
			return nil
		},
	}

	v := version.Get()
	rootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	rootCmd.PersistentFlags().StringVar(&a.secret, "secret", "", "shared secret (overrides ENCSTREAM_SECRET)")
	rootCmd.PersistentFlags().StringVar(&a.keyFile, "key-file", "", "path to a JWK file holding the shared secret (overrides SECRET_KEY_PATH)")

	rootCmd.AddCommand(newKeygenCmd(a))
	rootCmd.AddCommand(newSealCmd(a))
	rootCmd.AddCommand(newOpenCmd(a))
	rootCmd.AddCommand(newCheckCmd(a))
	rootCmd.AddCommand(newRequestCmd(a))

	return rootCmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveSecret returns the secret from the flags, falling back to the environment.
func (a *app) resolveSecret() (string, error) {
	if a.secret != "" || a.keyFile != "" {
		return crypto.ResolveSecret(a.secret, a.keyFile)
	}
	return crypto.ResolveSecret(a.cfg.Secret, a.cfg.SecretKeyPath)
}

// readInput reads the named file, or stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}

	root, err := os.OpenRoot(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open directory for %s: %w", path, err)
	}
	defer root.Close()

	data, err := root.ReadFile(filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
