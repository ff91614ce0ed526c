package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowsmith/internal/config"
	"flowsmith/internal/eventstream"
	"flowsmith/internal/flow"
	"flowsmith/internal/issue"
	"flowsmith/internal/orchestrator"
	"flowsmith/internal/prompts"
	"flowsmith/internal/server"
	"flowsmith/internal/util/jsonutil"
)

type runFlags struct {
	contextFile     string
	output          string
	variableScope   string
	maxIterations   int
	maxMetaRounds   int
	fake            bool
	listen          string
	describeSchemas bool
}

func (c *cli) newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <flow.json>",
		Short: "Validate a flow and repair it until it passes or the budget runs out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.contextFile, "context", "", "connector documentation appended to review and fix requests")
	fl.StringVarP(&f.output, "output", "o", "", "where to write the repaired flow (default: the input file)")
	fl.StringVar(&f.variableScope, "variable-scope", "", "variable reference scope: upstream or flow")
	fl.IntVar(&f.maxIterations, "max-iterations", 0, "iterations per meta round")
	fl.IntVar(&f.maxMetaRounds, "max-meta-rounds", 0, "meta rounds")
	fl.BoolVar(&f.fake, "fake", false, "use the offline fake model")
	fl.StringVar(&f.listen, "listen", "", "serve progress events on this address while running")
	fl.BoolVar(&f.describeSchemas, "describe-schemas", true, "send component schemas as context when --context is not set")
	return cmd
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("variable-scope") {
		cfg.Loop.VariableScope = f.variableScope
	}
	if fl.Changed("max-iterations") {
		cfg.Loop.MaxIterations = f.maxIterations
	}
	if fl.Changed("max-meta-rounds") {
		cfg.Loop.MaxMetaRounds = f.maxMetaRounds
	}
	if f.fake {
		cfg.LLM.Provider = config.ProviderFake
	}
	if fl.Changed("listen") {
		cfg.Stream.Listen = f.listen
	}
	return cfg.Validate()
}

func (c *cli) run(cmd *cobra.Command, input string, f *runFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := c.cfg
	if err := f.apply(cmd, cfg); err != nil {
		return err
	}
	doc, err := readFlow(input)
	if err != nil {
		return err
	}
	connectorContext := ""
	if f.contextFile != "" {
		b, err := os.ReadFile(f.contextFile)
		if err != nil {
			return fmt.Errorf("read context: %w", err)
		}
		connectorContext = string(b)
	}

	client, err := buildLLM(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := prompts.NewDir(cfg.Paths.PromptsDir, c.logger)
	if err != nil {
		return err
	}
	schemas, err := buildSchemas(cfg, c.logger)
	if err != nil {
		return err
	}
	stores, err := openRunStores(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer stores.Close()

	observers := []orchestrator.Observer{progressPrinter(cmd.ErrOrStderr())}
	if cfg.Stream.Listen != "" {
		hub := eventstream.NewHub(c.logger)
		defer hub.Close()
		shutdown := c.startServer(cfg.Stream.Listen, server.Routes{Events: hub, Runs: stores.reader, Logger: c.logger})
		defer shutdown()
		observers = append(observers, hub)
	}

	loop, err := orchestrator.New(orchestrator.Deps{
		LLM:       client,
		Prompts:   store,
		Schemas:   schemas,
		RunLog:    stores.sink,
		Logger:    c.logger,
		Observers: observers,
	}, orchestrator.Options{
		MaxIterations:    cfg.Loop.MaxIterations,
		MaxMetaRounds:    cfg.Loop.MaxMetaRounds,
		Models:           models(cfg),
		ConnectorContext: connectorContext,
		DescribeSchemas:  f.describeSchemas,
		VariableScope:    structuralScope(cfg.Loop.VariableScope),
	})
	if err != nil {
		return err
	}

	res, err := loop.Run(ctx, doc)
	if err != nil {
		return err
	}

	output := f.output
	if output == "" {
		output = input
	}
	out := cmd.OutOrStdout()
	if res.Success() {
		if err := writeFlow(output, res.Document); err != nil {
			return err
		}
		printf(out, "flow passed after %d iteration(s) in %d meta round(s): %s\n", res.Iterations, res.MetaRounds, output)
		printIssues(out, res.Issues)
		return nil
	}
	failed := failedPath(output)
	if err := writeFlow(failed, res.Document); err != nil {
		return err
	}
	printf(out, "flow still has %d critical issue(s) after %d iteration(s); last attempt written to %s\n",
		issue.CountCritical(res.Issues), res.Iterations, failed)
	printIssues(out, res.Issues)
	return errExhausted
}

func (c *cli) startServer(addr string, routes server.Routes) (shutdown func()) {
	srv := server.New(addr, server.NewMux(routes), c.logger)
	go func() {
		if err := srv.Start(); err != nil {
			c.logger.Error("http server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			c.logger.Warn("http server shutdown", zap.Error(err))
		}
	}
}

func readFlow(path string) (*flow.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := flow.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func writeFlow(path string, doc *flow.Document) error {
	b, err := jsonutil.MarshalNoEscapeIndent(doc.Raw(), "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// failedPath turns flow.json into flow.failed.json.
func failedPath(output string) string {
	ext := filepath.Ext(output)
	if ext == "" {
		return output + ".failed.json"
	}
	return strings.TrimSuffix(output, ext) + ".failed" + ext
}

func progressPrinter(w io.Writer) orchestrator.Observer {
	return orchestrator.ObserverFunc(func(e orchestrator.Event) {
		switch e.State {
		case orchestrator.Validating:
			printf(w, "[round %d] iteration %d\n", e.MetaRound, e.Iteration)
		case orchestrator.Fixing:
			printf(w, "  %d issue(s), %d critical; requesting fix\n", len(e.Issues), e.Critical)
		case orchestrator.MetaImproving:
			printf(w, "[round %d] improving prompts\n", e.MetaRound)
		}
	})
}
