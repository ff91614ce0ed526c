package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"flowsmith/internal/config"
	"flowsmith/internal/llm"
	"flowsmith/internal/oracle"
	"flowsmith/internal/runlog"
	"flowsmith/internal/schema"
)

const schemaCacheSize = 256

func buildLLM(ctx context.Context, cfg *config.Config, logger *zap.Logger) (llm.LLMClient, error) {
	var base llm.LLMClient
	switch cfg.LLM.Provider {
	case config.ProviderFake:
		base = llm.NewFakeClient()
	default:
		if cfg.LLM.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is not set (or use --fake)")
		}
		g, err := llm.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.GeneratorModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		base = g
	}
	return llm.Wrap(base,
		llm.Logging(logger),
		llm.Retry(cfg.LLM.MaxAttempts, cfg.LLM.RetryBase),
		llm.RateLimit(cfg.LLM.RPS, cfg.LLM.Burst),
	), nil
}

func models(cfg *config.Config) oracle.Models {
	return oracle.Models{
		Generator:    cfg.LLM.GeneratorModel,
		Reviewer:     cfg.LLM.ReviewerModel,
		MetaImprover: cfg.LLM.MetaImproverModel,
	}
}

// buildSchemas returns nil when no connectors directory is configured.
func buildSchemas(cfg *config.Config, logger *zap.Logger) (schema.Provider, error) {
	if cfg.Paths.ConnectorsDir == "" {
		return nil, nil
	}
	dir, err := schema.NewDirProvider(cfg.Paths.ConnectorsDir, logger)
	if err != nil {
		return nil, err
	}
	return schema.NewCached(dir, schemaCacheSize)
}

type runStores struct {
	sink    runlog.Multi
	reader  runlog.Reader
	closers []func() error
}

func (s *runStores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// openRunStores opens every configured run log backend. The SQL store is
// preferred as reader, then S3.
func openRunStores(ctx context.Context, cfg *config.Config, withDisk bool) (*runStores, error) {
	s := &runStores{}
	if withDisk && cfg.Paths.LogDir != "" {
		disk, err := runlog.NewDiskSink(cfg.Paths.LogDir)
		if err != nil {
			return nil, err
		}
		s.sink = append(s.sink, disk)
	}
	if cfg.Artifact.Enabled {
		st, err := runlog.NewS3Store(cfg.Artifact.S3())
		if err != nil {
			return nil, fmt.Errorf("s3 run log: %w", err)
		}
		s.sink = append(s.sink, st)
		s.reader = st
	}
	if cfg.RunLog.DSN != "" {
		dialect, err := cfg.RunLog.SQLDialect()
		if err != nil {
			return nil, err
		}
		st, err := runlog.OpenSQL(ctx, dialect, cfg.RunLog.DSN)
		if err != nil {
			return nil, fmt.Errorf("sql run log: %w", err)
		}
		s.sink = append(s.sink, st)
		s.reader = st
		s.closers = append(s.closers, st.Close)
	}
	return s, nil
}
