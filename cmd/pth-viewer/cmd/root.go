package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/yueduduo/pth-viewer/internal/config"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "pth-viewer",
	Short: "Model checkpoint structure and tensor inspector",
	Long: `pth-viewer opens ML model checkpoint files (PyTorch pickle archives,
safetensors, and msgpack tree checkpoints) without executing any model
code and reports what is inside them.

Two modes:
  - One-shot: 'structure' and 'data' print a single JSON document to
    stdout and exit. Failures are reported as JSON error documents,
    also on stdout, so callers only ever parse one stream.
  - Server: 'serve' runs a local HTTP service that caches opened files
    across requests and shuts itself down when idle.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Usage mistakes still honor the
// JSON-on-stdout contract before the nonzero exit.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Path to configuration file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")
}

// loadConfig reads the config file (defaults when --config is unset)
// and applies the logging flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

// printJSON writes one compact JSON document to stdout. Every one-shot
// invocation produces exactly one such document, success or failure.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// The document itself failed to serialize; fall back to a
		// plain error document so the caller still gets valid JSON.
		os.Stdout.WriteString(`{"error":"failed to encode response"}` + "\n")
	}
}

// printError reports a handled failure as a JSON document on stdout.
// The exit code stays zero: a parseable error document is a successful
// invocation from the caller's point of view.
func printError(err error) {
	printJSON(map[string]string{"error": err.Error()})
}
