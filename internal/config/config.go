// Package config loads flowsmith settings from .env, an optional YAML file
// and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"flowsmith/internal/runlog"
)

const (
	ProviderGemini = "gemini"
	ProviderFake   = "fake"
)

type Config struct {
	Loop     LoopConfig     `yaml:"loop"`
	LLM      LLMConfig      `yaml:"llm"`
	Paths    PathsConfig    `yaml:"paths"`
	RunLog   RunLogConfig   `yaml:"runlog"`
	Artifact ArtifactConfig `yaml:"artifact"`
	Log      LogConfig      `yaml:"log"`
	Stream   StreamConfig   `yaml:"stream"`
}

type LoopConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	MaxMetaRounds int    `yaml:"max_meta_rounds"`
	VariableScope string `yaml:"variable_scope"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	// APIKey is only read from the environment.
	APIKey            string        `yaml:"-"`
	GeneratorModel    string        `yaml:"generator_model"`
	ReviewerModel     string        `yaml:"reviewer_model"`
	MetaImproverModel string        `yaml:"meta_improver_model"`
	RPS               float64       `yaml:"rps"`
	Burst             int           `yaml:"burst"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBase         time.Duration `yaml:"retry_base"`
}

type PathsConfig struct {
	// ConnectorsDir enables input coverage checks when set.
	ConnectorsDir string `yaml:"connectors_dir"`
	PromptsDir    string `yaml:"prompts_dir"`
	LogDir        string `yaml:"log_dir"`
}

// RunLogConfig selects an optional SQL run log next to the log directory.
type RunLogConfig struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
}

type ArtifactConfig struct {
	Enabled   bool   `yaml:"-"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// StreamConfig enables the websocket progress stream when Listen is set.
type StreamConfig struct {
	Listen string `yaml:"listen"`
}

func Default() *Config {
	return &Config{
		Loop: LoopConfig{MaxIterations: 5, MaxMetaRounds: 3, VariableScope: "flow"},
		LLM: LLMConfig{
			Provider:          ProviderGemini,
			GeneratorModel:    "gemini-2.5-flash",
			ReviewerModel:     "gemini-2.5-flash-lite",
			MetaImproverModel: "gemini-2.5-flash",
			RPS:               1,
			Burst:             2,
			MaxAttempts:       3,
			RetryBase:         2 * time.Second,
		},
		Paths:    PathsConfig{PromptsDir: "prompts", LogDir: "logs"},
		Artifact: ArtifactConfig{Region: "us-east-1", Bucket: "flowsmith-runs", Prefix: "runs"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads .env (if present), then path (if non-empty), then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePaths makes relative directories in a config file relative to it.
func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.Paths.ConnectorsDir, &c.Paths.PromptsDir, &c.Paths.LogDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func (c *Config) applyEnv(getenv func(string) string) error {
	env := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}
	setString := func(dst *string, keys ...string) {
		if v := env(keys...); v != "" {
			*dst = v
		}
	}
	var errs []error
	setInt := func(dst *int, key string) {
		if v := env(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	c.LLM.APIKey = firstNonEmpty(env("GEMINI_API_KEY", "GOOGLE_API_KEY"), c.LLM.APIKey)
	setString(&c.LLM.Provider, "FLOWSMITH_LLM_PROVIDER")
	setString(&c.LLM.GeneratorModel, "FLOWSMITH_GENERATOR_MODEL")
	setString(&c.LLM.ReviewerModel, "FLOWSMITH_REVIEWER_MODEL")
	setString(&c.LLM.MetaImproverModel, "FLOWSMITH_META_IMPROVER_MODEL")
	if v := env("LLM_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: LLM_RPS: %w", err))
		} else {
			c.LLM.RPS = f
		}
	}
	setInt(&c.LLM.Burst, "LLM_BURST")
	setInt(&c.LLM.MaxAttempts, "LLM_MAX_ATTEMPTS")

	setInt(&c.Loop.MaxIterations, "FLOWSMITH_MAX_ITERATIONS")
	setInt(&c.Loop.MaxMetaRounds, "FLOWSMITH_MAX_META_ROUNDS")
	setString(&c.Loop.VariableScope, "FLOWSMITH_VARIABLE_SCOPE")

	setString(&c.Paths.ConnectorsDir, "FLOWSMITH_CONNECTORS_DIR")
	setString(&c.Paths.PromptsDir, "FLOWSMITH_PROMPTS_DIR")
	setString(&c.Paths.LogDir, "FLOWSMITH_LOG_DIR")
	setString(&c.Log.Level, "FLOWSMITH_LOG_LEVEL")
	setString(&c.Stream.Listen, "FLOWSMITH_LISTEN")

	setString(&c.RunLog.Dialect, "RUNLOG_DIALECT")
	setString(&c.RunLog.DSN, "RUNLOG_DSN", "DATABASE_URL")

	a := &c.Artifact
	setString(&a.Endpoint, "ARTIFACT_S3_ENDPOINT")
	setString(&a.Region, "ARTIFACT_S3_REGION")
	a.AccessKey = firstNonEmpty(env("ARTIFACT_S3_ACCESS_KEY", "MINIO_ROOT_USER"), a.AccessKey)
	a.SecretKey = firstNonEmpty(env("ARTIFACT_S3_SECRET_KEY", "MINIO_ROOT_PASSWORD"), a.SecretKey)
	setString(&a.Bucket, "ARTIFACT_S3_BUCKET")
	setString(&a.Prefix, "ARTIFACT_S3_PREFIX")
	if raw := env("ARTIFACT_S3_USE_SSL"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: ARTIFACT_S3_USE_SSL: %w", err))
		} else {
			a.UseSSL = v
		}
	}
	a.Enabled = strings.TrimSpace(a.Endpoint) != ""

	if c.RunLog.DSN != "" && c.RunLog.Dialect == "" {
		c.RunLog.Dialect = inferDialect(c.RunLog.DSN)
	}
	return errors.Join(errs...)
}

func inferDialect(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return string(runlog.Postgres)
	}
	return string(runlog.SQLite)
}

func (c *Config) Validate() error {
	if c.Loop.MaxIterations < 1 || c.Loop.MaxMetaRounds < 1 {
		return fmt.Errorf("config: max_iterations and max_meta_rounds must be >= 1 (got %d, %d)",
			c.Loop.MaxIterations, c.Loop.MaxMetaRounds)
	}
	switch strings.ToLower(c.Loop.VariableScope) {
	case "", "flow", "upstream":
	default:
		return fmt.Errorf("config: invalid variable_scope %q (valid: upstream, flow)", c.Loop.VariableScope)
	}
	switch c.LLM.Provider {
	case ProviderGemini, ProviderFake:
	default:
		return fmt.Errorf("config: invalid llm provider %q (valid: %s, %s)", c.LLM.Provider, ProviderGemini, ProviderFake)
	}
	if c.LLM.RPS < 0 || c.LLM.Burst < 0 || c.LLM.MaxAttempts < 0 {
		return fmt.Errorf("config: llm rps, burst and max_attempts must not be negative")
	}
	if c.RunLog.DSN != "" {
		if _, err := c.RunLog.SQLDialect(); err != nil {
			return err
		}
	}
	return nil
}

// SQLDialect maps the configured dialect to the run log driver name.
func (r RunLogConfig) SQLDialect() (runlog.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(r.Dialect)) {
	case "pgx", "postgres", "postgresql":
		return runlog.Postgres, nil
	case "sqlite", "sqlite3":
		return runlog.SQLite, nil
	default:
		return "", fmt.Errorf("config: invalid runlog dialect %q (valid: postgres, sqlite)", r.Dialect)
	}
}

func (a ArtifactConfig) S3() runlog.S3Config {
	return runlog.S3Config{
		Endpoint:  a.Endpoint,
		Region:    a.Region,
		AccessKey: a.AccessKey,
		SecretKey: a.SecretKey,
		Bucket:    a.Bucket,
		Prefix:    a.Prefix,
		UseSSL:    a.UseSSL,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
