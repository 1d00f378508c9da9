package main

import (
	"fmt"
	"os"
	"time"

	"github.com/phyntra/backend/internal/config"
	"github.com/phyntra/backend/internal/extraction"
	"github.com/phyntra/backend/internal/observability"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	mode       string
	url        string
	logLevel   string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "phyntra",
		Short: "Phyntra CLI - process invoices from the terminal",
		Long: `phyntra drives the invoice chat from a terminal.

Files are uploaded one at a time to the invoice extraction service and the
resulting conversation is printed as it grows.

Examples:
  phyntra upload invoice.pdf receipt.png
  phyntra upload --mode production scan.jpg
  phyntra chat "hello there"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (defaults and environment only when unset)")
	rootCmd.PersistentFlags().StringVar(&opts.mode, "mode", "", "deployment mode: production or development")
	rootCmd.PersistentFlags().StringVar(&opts.url, "url", "", "extraction service base URL (overrides mode)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level written to stderr")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "per-file request timeout (0 uses the config value)")

	rootCmd.AddCommand(newUploadCmd(opts))
	rootCmd.AddCommand(newChatCmd(opts))
	return rootCmd
}

// loadConfig resolves the configuration and applies the persistent flags.
func (o *globalOptions) loadConfig() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadConfig(o.configPath)
	} else {
		cfg, err = config.LoadFromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	if o.mode != "" {
		cfg.Extraction.Mode = o.mode
	}
	if o.url != "" {
		cfg.Extraction.BaseURL = o.url
	}
	if o.logLevel != "" {
		cfg.Advanced.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *globalOptions) logger(cmd *cobra.Command, cfg *config.AppConfig) (zerolog.Logger, error) {
	level := cfg.Advanced.LogLevel
	if o.logLevel == "" {
		// keep the terminal quiet unless asked
		level = "warn"
	}
	return observability.NewLoggerTo(cmd.ErrOrStderr(), level, "console")
}

func (o *globalOptions) client(cfg *config.AppConfig, log zerolog.Logger) *extraction.Client {
	timeout := cfg.ExtractionTimeout()
	if o.timeout > 0 {
		timeout = o.timeout
	}
	return extraction.NewClient(cfg.ExtractionBaseURL(),
		extraction.WithTimeout(timeout),
		extraction.WithLogger(log),
	)
}
