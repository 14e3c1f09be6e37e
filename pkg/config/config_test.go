package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-vetgraph/pkg/config"
)

// chdir runs the test in an empty directory so no .env is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD", "BATCH_MODE", "BATCH_QUERY_INTERVAL"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)
	clearEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2048, cfg.LLM.MaxTokens)
	assert.Equal(t, 7*24*time.Hour, cfg.LLM.CacheTTL)
	assert.Equal(t, "neo4j", cfg.Neo4j.Database)
	assert.Equal(t, 32, cfg.Neo4j.BatchSize)
	assert.Equal(t, "vetgraph", cfg.Index.NamePrefix)
	assert.Empty(t, cfg.Embedder.Model)
	assert.False(t, cfg.LLM.BatchMode)
	assert.Equal(t, 60*time.Second, cfg.LLM.BatchPollInterval)

	t.Setenv("BATCH_MODE", "true")
	t.Setenv("BATCH_QUERY_INTERVAL", "15")
	cfg, err = config.Load("")
	require.NoError(t, err)
	assert.True(t, cfg.LLM.BatchMode)
	assert.Equal(t, 15*time.Second, cfg.LLM.BatchPollInterval)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := chdir(t)
	clearEnv(t)

	path := filepath.Join(dir, "vetgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
llm:
  model: qwen-plus
  base_url: https://dashscope.example/v1
pipeline:
  entity_types: [disease, symptom]
  default_attach_doc: atlas.pdf.txt-graph
`), 0o644))

	t.Setenv("VETGRAPH_SERVER_PORT", "9191")
	t.Setenv("VETGRAPH_NEO4J_URI", "bolt://graph:7687")
	t.Setenv("VETGRAPH_LLM_BATCH_POLL_INTERVAL", "5s")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "qwen-plus", cfg.LLM.Model)
	assert.Equal(t, 5*time.Second, cfg.LLM.BatchPollInterval)
	assert.Equal(t, []string{"disease", "symptom"}, cfg.Pipeline.EntityTypes)
	assert.Equal(t, "atlas.pdf.txt-graph", cfg.Pipeline.DefaultAttachDoc)
	assert.Equal(t, "bolt://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "sk-test", cfg.Embedder.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdir(t)
	clearEnv(t)
	t.Setenv("VETGRAPH_RULES_DIR", "")
	os.Unsetenv("VETGRAPH_RULES_DIR")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("VETGRAPH_RULES_DIR=/etc/vetgraph/rules\n"), 0o644))
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "/etc/vetgraph/rules", cfg.Rules.Dir)
}

func TestLoadMissingFile(t *testing.T) {
	chdir(t)
	_, err := config.Load("does-not-exist.yaml")
	assert.Error(t, err)
}
