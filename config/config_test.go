package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envFrom(vals map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", noEnv)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8050", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "leaft", cfg.Dataset.Kind)
	assert.Equal(t, ModelLlama, cfg.Models.Type)
	assert.Equal(t, 100, cfg.Refine.MaxAttempts)
	assert.Equal(t, 100, cfg.Refine.MaxTokens)
	assert.Equal(t, []string{`\n`, "\n", "."}, cfg.Refine.Stop)
	assert.Equal(t, 24*time.Hour, cfg.Session.Redis.TTL)
	assert.Equal(t, RenderConfig{Width: 800, Height: 480, HistBins: 10}, cfg.Render)

	src, ok := cfg.Dataset.Sources["leaft"]
	require.True(t, ok)
	assert.Equal(t, "Full. Crop -> Juice -> Final", src.Sheet)
	assert.Equal(t, "Trial", src.HeaderMarker)
	assert.Len(t, src.Exclude, 6)
	assert.Contains(t, src.Exclude, "R.FW.Sep")
	assert.True(t, src.DropNulls)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insight.yaml")
	body := `
server:
  addr: 127.0.0.1:9000
models:
  type: gemini
  gemini:
    api_key: secret
refine:
  max_attempts: 3
dataset:
  sources:
    leaft:
      location: s3://lab/leaft.xlsx
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, ModelGemini, cfg.Models.Type)
	assert.Equal(t, "secret", cfg.Models.Gemini.APIKey)
	assert.Equal(t, 3, cfg.Refine.MaxAttempts)
	// untouched siblings survive the merge
	assert.Equal(t, 100, cfg.Refine.MaxTokens)
	assert.Equal(t, "s3://lab/leaft.xlsx", cfg.Dataset.Sources["leaft"].Location)
	assert.Equal(t, "Trial", cfg.Dataset.Sources["leaft"].HeaderMarker)
}

func TestLoadEnvOverlay(t *testing.T) {
	cfg, err := load("", envFrom(map[string]string{
		"INSIGHT_SERVER_ADDR":           ":9999",
		"INSIGHT_MODELS_LLAMA_BASE_URL": "http://models:8080",
		"INSIGHT_REFINE_MAX_ATTEMPTS":   "7",
		"INSIGHT_SESSION_BACKEND":       "redis",
		"INSIGHT_SESSION_REDIS_TTL":     "1h",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "http://models:8080", cfg.Models.Llama.BaseURL)
	assert.Equal(t, 7, cfg.Refine.MaxAttempts)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, time.Hour, cfg.Session.Redis.TTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), noEnv)
	assert.Error(t, err)
}

func TestValidateModelType(t *testing.T) {
	assert.NoError(t, ValidateModelType("llama"))
	assert.NoError(t, ValidateModelType("gemini"))
	assert.ErrorIs(t, ValidateModelType("openai"), ErrModelNotImplemented)
	assert.ErrorIs(t, ValidateModelType("gpt-j"), ErrUnsupportedModel)
	assert.ErrorIs(t, ValidateModelType(""), ErrUnsupportedModel)
}

func TestLoadRejectsUnsupportedModel(t *testing.T) {
	_, err := load("", envFrom(map[string]string{"INSIGHT_MODELS_TYPE": "openai"}))
	assert.ErrorIs(t, err, ErrModelNotImplemented)
}

func TestValidateRetryPolicy(t *testing.T) {
	_, err := load("", envFrom(map[string]string{"INSIGHT_REFINE_MAX_ATTEMPTS": "0"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateSessionBackend(t *testing.T) {
	_, err := load("", envFrom(map[string]string{"INSIGHT_SESSION_BACKEND": "etcd"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateRender(t *testing.T) {
	cfg, err := load("", envFrom(map[string]string{"INSIGHT_RENDER_HIST_BINS": "4"}))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Render.HistBins)

	_, err = load("", envFrom(map[string]string{"INSIGHT_RENDER_HIST_BINS": "0"}))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = load("", envFrom(map[string]string{"INSIGHT_RENDER_WIDTH": "-1"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "INSIGHT_MODELS_LLAMA_BASE_URL", EnvName("models.llama.base_url"))
}
