// Package cli implements kdsctl, the operator command line for the kitchen
// display backend.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/kds/backend/internal/infrastructure/clover"
	"github.com/kds/backend/internal/infrastructure/config"
	"github.com/kds/backend/internal/infrastructure/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Upstream or runtime failure
	ExitCommandError = 2 // Bad flags or configuration
)

// ExitError carries the exit code a command failed with
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	BaseURL    string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"json", "text"}

// NewRootCommand creates the root command for kdsctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kdsctl",
		Short: "Kitchen display operator tool",
		Long: `Inspect the point-of-sale orders the kitchen display shows.

Configuration is read the same way the server reads it: config.toml,
then KDS_-prefixed environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return &ExitError{
					Code:    ExitCommandError,
					Message: fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats),
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: ./config.toml or /app/config.toml)")
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "override the Clover API base URL")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log upstream calls to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "json", "output format (json|text)")

	cmd.AddCommand(NewOrderCommand(opts))
	cmd.AddCommand(NewOrdersCommand(opts))

	return cmd
}

// loadConfig reads the configuration and applies flag overrides
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.LoadFrom(opts.ConfigPath)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "load configuration", Err: err}
	}
	if opts.BaseURL != "" {
		cfg.Clover.BaseURL = opts.BaseURL
	}
	return cfg, nil
}

// newLogger writes to stderr so command output stays machine readable
func newLogger(opts *RootOptions) (*zap.Logger, error) {
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	return logger.New(&logger.Config{
		Level:      level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "15:04:05.000",
	})
}

func newCloverClient(cfg *config.Config, log *zap.Logger) (*clover.Client, error) {
	client, err := clover.NewClient(&clover.Config{
		APIKey:            cfg.Clover.APIKey,
		MerchantID:        cfg.Clover.MerchantID,
		APIBaseURL:        cfg.Clover.BaseURL,
		Timeout:           cfg.Clover.Timeout,
		RequestsPerSecond: cfg.Clover.RequestsPerSecond,
		Burst:             cfg.Clover.Burst,
	},
		clover.WithRetryPolicy(clover.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			Multiplier:   cfg.Retry.Multiplier,
		}),
		clover.WithLogger(log),
	)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "configure Clover client", Err: err}
	}
	return client, nil
}

// writeJSON writes v indented, followed by a newline
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
