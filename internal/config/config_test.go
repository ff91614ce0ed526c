package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsmith/internal/runlog"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Loop.MaxIterations)
	assert.Equal(t, 3, cfg.Loop.MaxMetaRounds)
	assert.Equal(t, "gemini-2.5-flash-lite", cfg.LLM.ReviewerModel)
	assert.Equal(t, "flow", cfg.Loop.VariableScope)
}

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"GOOGLE_API_KEY":            "key-2",
		"FLOWSMITH_MAX_ITERATIONS":  "7",
		"FLOWSMITH_VARIABLE_SCOPE":  "upstream",
		"FLOWSMITH_CONNECTORS_DIR":  "/srv/connectors",
		"LLM_RPS":                   "0.5",
		"RUNLOG_DSN":                "postgres://u:p@db/flowsmith",
		"ARTIFACT_S3_ENDPOINT":      "minio:9000",
		"MINIO_ROOT_USER":           "root",
		"ARTIFACT_S3_SECRET_KEY":    "secret",
		"ARTIFACT_S3_USE_SSL":       "false",
		"FLOWSMITH_REVIEWER_MODEL":  "gemini-2.5-pro",
		"FLOWSMITH_MAX_META_ROUNDS": " ",
	}))
	require.NoError(t, err)

	assert.Equal(t, "key-2", cfg.LLM.APIKey)
	assert.Equal(t, 7, cfg.Loop.MaxIterations)
	assert.Equal(t, 3, cfg.Loop.MaxMetaRounds)
	assert.Equal(t, "upstream", cfg.Loop.VariableScope)
	assert.Equal(t, "/srv/connectors", cfg.Paths.ConnectorsDir)
	assert.Equal(t, 0.5, cfg.LLM.RPS)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.ReviewerModel)

	d, err := cfg.RunLog.SQLDialect()
	require.NoError(t, err)
	assert.Equal(t, runlog.Postgres, d)

	assert.True(t, cfg.Artifact.Enabled)
	assert.Equal(t, runlog.S3Config{
		Endpoint: "minio:9000", Region: "us-east-1", AccessKey: "root", SecretKey: "secret",
		Bucket: "flowsmith-runs", Prefix: "runs",
	}, cfg.Artifact.S3())
}

func TestApplyEnv_CollectsParseErrors(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"FLOWSMITH_MAX_ITERATIONS": "five",
		"ARTIFACT_S3_USE_SSL":      "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLOWSMITH_MAX_ITERATIONS")
	assert.Contains(t, err.Error(), "ARTIFACT_S3_USE_SSL")
}

func TestApplyEnv_InfersSQLiteForPaths(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.applyEnv(envMap(map[string]string{"RUNLOG_DSN": "runs.db"})))
	assert.Equal(t, "sqlite", cfg.RunLog.Dialect)
	assert.False(t, cfg.Artifact.Enabled)
}

func TestValidate_Rejects(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"zero iterations": func(c *Config) { c.Loop.MaxIterations = 0 },
		"scope":           func(c *Config) { c.Loop.VariableScope = "global" },
		"provider":        func(c *Config) { c.LLM.Provider = "openai" },
		"negative rps":    func(c *Config) { c.LLM.RPS = -1 },
		"dialect":         func(c *Config) { c.RunLog = RunLogConfig{Dialect: "mysql", DSN: "x"} },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowsmith.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
loop:
  max_iterations: 2
  variable_scope: upstream
llm:
  provider: fake
  retry_base: 500ms
paths:
  prompts_dir: prompts
  log_dir: /var/log/flowsmith
stream:
  listen: ":8090"
`), 0o644))
	t.Setenv("FLOWSMITH_MAX_META_ROUNDS", "4")
	t.Setenv("FLOWSMITH_VARIABLE_SCOPE", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Loop.MaxIterations)
	assert.Equal(t, 4, cfg.Loop.MaxMetaRounds)
	assert.Equal(t, "upstream", cfg.Loop.VariableScope)
	assert.Equal(t, ProviderFake, cfg.LLM.Provider)
	assert.Equal(t, 500*time.Millisecond, cfg.LLM.RetryBase)
	assert.Equal(t, filepath.Join(dir, "prompts"), cfg.Paths.PromptsDir)
	assert.Equal(t, "/var/log/flowsmith", cfg.Paths.LogDir)
	assert.Equal(t, ":8090", cfg.Stream.Listen)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.GeneratorModel)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("loop: [1, 2"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}
