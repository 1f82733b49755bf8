package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theamanone/encstream/internal/crypto"
)

func newSealCmd(a *app) *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Seal a JSON value into an envelope",
		Long: `Read a JSON value from --input (or stdin) and print the sealed envelope.

Example:
  echo '{"message":"hello"}' | encstream seal --secret "$ENCSTREAM_SECRET"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := a.resolveSecret()
			if err != nil {
				return err
			}

			input, err := readInput(cmd, inputPath)
			if err != nil {
				return err
			}
			var value any
			if err := json.Unmarshal(input, &value); err != nil {
				return fmt.Errorf("input is not valid JSON: %w", err)
			}

			env, err := crypto.Seal(secret, value)
			if err != nil {
				return err
			}
			return writeJSON(cmd, env)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "file containing the JSON value (- for stdin)")
	return cmd
}

func newOpenCmd(a *app) *cobra.Command {
	var (
		inputPath     string
		maxAge        time.Duration
		skipFreshness bool
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Verify and decrypt an envelope",
		Long: `Read an envelope from --input (or stdin), check it and print the decrypted JSON value.

The envelope is first checked for structure and freshness (--max-age) unless --skip-freshness is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := a.resolveSecret()
			if err != nil {
				return err
			}

			input, err := readInput(cmd, inputPath)
			if err != nil {
				return err
			}

			var env *crypto.Envelope
			if skipFreshness {
				env = &crypto.Envelope{}
				if err := json.Unmarshal(input, env); err != nil {
					return fmt.Errorf("input is not an envelope: %w", err)
				}
			} else {
				var reason crypto.RejectReason
				env, reason = crypto.NewValidator(maxAge).Inspect(input)
				if reason != crypto.ReasonNone {
					return crypto.NewRejectedError(reason)
				}
			}

			value, err := crypto.Open(secret, env)
			if err != nil {
				return err
			}
			return writeJSON(cmd, value)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "file containing the envelope (- for stdin)")
	cmd.Flags().DurationVar(&maxAge, "max-age", crypto.DefaultMaxAge, "maximum envelope age")
	cmd.Flags().BoolVar(&skipFreshness, "skip-freshness", false, "open envelopes of any age")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var (
		inputPath string
		maxAge    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the structure and freshness of an envelope",
		Long: `Read an envelope from --input (or stdin) and report whether it would be accepted.

No secret is needed: the signature is not verified. The command fails when the envelope is rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, inputPath)
			if err != nil {
				return err
			}

			_, reason := crypto.NewValidator(maxAge).Inspect(input)
			fmt.Fprintln(cmd.OutOrStdout(), reason.String())
			if reason != crypto.ReasonNone {
				return crypto.NewRejectedError(reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "file containing the envelope (- for stdin)")
	cmd.Flags().DurationVar(&maxAge, "max-age", crypto.DefaultMaxAge, "maximum envelope age")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
