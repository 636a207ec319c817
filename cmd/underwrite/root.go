package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/underwriting/internal/platform/settings"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logFormat string
	logLevel  string
}

var rootCmd = &cobra.Command{
	Use:   "underwrite",
	Short: "Case decisioning engine for life insurance underwriting",
	Long: "underwrite scores applicant evidence into a risk snapshot, explains it as a\n" +
		"rationale chain and recommends an underwriting action.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logFormat, "log-format", settings.FromEnv().LogFormat, "Log format: text or json")
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the persistent flags and installs
// it as the slog default.
func newLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(rootFlags.logLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(rootFlags.logFormat, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
