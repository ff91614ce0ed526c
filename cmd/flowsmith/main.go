// Command flowsmith validates Appmixer E2E test flows and repairs them with
// an LLM review and fix loop.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowsmith/internal/config"
	"flowsmith/internal/logging"
)

var (
	// errCritical and errExhausted map to exit code 2.
	errCritical  = errors.New("flow has critical issues")
	errExhausted = errors.New("flow could not be repaired")
)

type cli struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, errCritical) || errors.Is(err, errExhausted) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "flowsmith",
		Short: "Validate and repair Appmixer E2E test flows",
		Long: `flowsmith checks Appmixer E2E test flows with deterministic rules and
component schemas, then asks an LLM reviewer and generator to fix what is
broken. Prompts that keep failing are rewritten between rounds.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if c.verbose {
				level = "debug"
			}
			logger, err := logging.New(level, cfg.Log.Development)
			if err != nil {
				return err
			}
			c.cfg, c.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		c.newRunCmd(),
		c.newValidateCmd(),
		c.newPromptsCmd(),
		c.newRunsCmd(),
		c.newServeCmd(),
	)
	return root
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
