package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/insight/config"
	"github.com/spektr-org/insight/dataset"
	"github.com/spektr-org/insight/engine"
	core "github.com/spektr-org/insight/insight"
	"github.com/spektr-org/insight/llm"
	"github.com/spektr-org/insight/logging"
	"github.com/spektr-org/insight/session"
)

const trialCSV = `Trial,Variety,Site,Yield,Notes
T1,Gala,North,10,ok
T2,Gala,South,14,ok
T3,Fuji,North,12,ok
T4,Fuji,South,16,ok
T5,Honeycrisp,North,9.5,ok
T6,Honeycrisp,South,,missing
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trials.csv")
	require.NoError(t, os.WriteFile(path, []byte(trialCSV), 0o600))

	return &config.Config{
		Dataset: config.DatasetConfig{
			Kind: "leaft",
			Sources: map[string]config.SourceConfig{
				"leaft": {
					Location:     path,
					Format:       "csv",
					HeaderMarker: "Trial",
					Exclude:      []string{"Notes", "Membrane"},
					DropNulls:    true,
				},
			},
		},
		Models: config.ModelsConfig{Type: config.ModelLlama},
		Refine: config.RefineConfig{MaxAttempts: 3, MaxTokens: 20},
		Session: config.SessionConfig{
			Backend: "memory",
		},
	}
}

// codeModel answers every translation with instruction.
func codeModel(instruction string) llm.Completer {
	return llm.CompleterFunc(func(context.Context, llm.CompletionRequest) (string, error) {
		return `{"instruction": ` + quoteJSON(instruction) + `}`, nil
	})
}

func quoteJSON(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func TestNewLoadsTableAndAnswers(t *testing.T) {
	cfg := testConfig(t)
	refiner := llm.CompleterFunc(func(_ context.Context, req llm.CompletionRequest) (string, error) {
		assert.Equal(t, 20, req.MaxTokens)
		return `The average yield is "12.3"`, nil
	})

	a, err := New(context.Background(), cfg, logging.Nop(),
		WithModels(Models{Code: codeModel(`avg("Yield")`), Refiner: refiner}))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"Trial", "Variety", "Site", "Yield"}, a.Table.Headers())
	assert.Equal(t, 5, a.Table.Len(), "the row with a null yield is dropped")
	assert.Equal(t, "leaft", a.Schema.Name)
	assert.IsType(t, &session.MemoryStore{}, a.Sessions)

	res, err := a.Orchestrator.HandleQuery(context.Background(), core.Request{
		Tab: core.TabInsight, Trigger: 1, Mode: core.ModeRaw, Prompt: "What is the average yield?",
	})
	require.NoError(t, err)
	require.Len(t, res.Output, 1)
	assert.Contains(t, res.Output[0].Answer, "12.3")
	require.NotNil(t, res.Instruction)
	assert.Equal(t, `avg("Yield")`, *res.Instruction)

	res, err = a.Orchestrator.HandleQuery(context.Background(), core.Request{
		Tab: core.TabInsight, Trigger: 2, Mode: core.ModeUseLLM, Prompt: "What is the average yield",
	})
	require.NoError(t, err)
	assert.Equal(t, "The average yield is 12.3", res.Output[0].Answer)
	assert.Equal(t, 1, res.Attempts)
}

func TestNewPlots(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, logging.Nop(),
		WithModels(Models{Code: codeModel(`plot.bar(x="Variety", y="Yield")`)}))
	require.NoError(t, err)

	res, err := a.Orchestrator.HandleQuery(context.Background(), core.Request{
		Tab: core.TabInsight, Trigger: 1, Mode: core.ModeRaw, Prompt: "plot yield by variety",
	})
	require.NoError(t, err)
	require.Len(t, res.Output, 1)
	assert.True(t, strings.HasPrefix(res.Output[0].Image, "data:image/png;base64,"))
}

func TestNewSizesCharts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Render = config.RenderConfig{Width: 320, Height: 240, HistBins: 3}
	a, err := New(context.Background(), cfg, logging.Nop(),
		WithModels(Models{Code: codeModel(`plot.hist(y="Yield")`)}))
	require.NoError(t, err)

	assert.Equal(t, 320, a.Plotter.Width)
	assert.Equal(t, 240, a.Plotter.Height)

	spec, err := engine.ParseInstruction(`plot.hist(y="Yield")`)
	require.NoError(t, err)
	res, err := engine.Execute(spec, a.Table.View(), a.Plotter.Options...)
	require.NoError(t, err)
	require.NotNil(t, res.ChartConfig)
	assert.Len(t, res.ChartConfig.Series[0].Data, 3)
}

func TestNewWithoutRefinerRejectsUseLLM(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), logging.Nop(),
		WithModels(Models{Code: codeModel(`avg("Yield")`)}))
	require.NoError(t, err)

	_, err = a.Orchestrator.HandleQuery(context.Background(), core.Request{
		Tab: core.TabInsight, Trigger: 1, Mode: core.ModeUseLLM, Prompt: "average yield",
	})
	assert.ErrorIs(t, err, core.ErrNoRefiner)
}

func TestNewUnsupportedKind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dataset.Kind = "orchard"
	_, err := New(context.Background(), cfg, logging.Nop(), WithModels(Models{Code: codeModel("count()")}))
	assert.ErrorIs(t, err, dataset.ErrUnsupportedSource)
}

func TestNewRefinesSchema(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dataset.RefineSchema = true
	calls := 0
	code := llm.CompleterFunc(func(_ context.Context, req llm.CompletionRequest) (string, error) {
		calls++
		return `{"datasetName":"Apple trials","datasetDescription":"Juice yield per trial"}`, nil
	})

	a, err := New(context.Background(), cfg, logging.Nop(), WithModels(Models{Code: code}))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Apple trials", a.Schema.Name)
	sch, err := a.Table.Schema()
	require.NoError(t, err)
	assert.Equal(t, "Apple trials", sch.Name)
}

func TestNewRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Session = config.SessionConfig{
		Backend: "redis",
		Redis:   config.RedisConfig{Addr: mr.Addr(), Prefix: "test:", TTL: time.Hour},
	}

	a, err := New(context.Background(), cfg, logging.Nop(), WithModels(Models{Code: codeModel("count()")}))
	require.NoError(t, err)
	require.IsType(t, &session.RedisStore{}, a.Sessions)

	require.NoError(t, a.Sessions.Save(context.Background(), "abc", session.NewState()))
	assert.True(t, mr.Exists("test:abc"))
	assert.NoError(t, a.Close())
}

func TestNewRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Session = config.SessionConfig{Backend: "redis", Redis: config.RedisConfig{Addr: addr}}
	_, err := New(context.Background(), cfg, logging.Nop(), WithModels(Models{Code: codeModel("count()")}))
	assert.ErrorContains(t, err, "connect session redis")
}

func TestHandlerServesDashboard(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimit = 1
	a, err := New(context.Background(), cfg, logging.Nop(), WithModels(Models{Code: codeModel("count()")}))
	require.NoError(t, err)

	h, err := a.Handler(nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	m, err := a.MCP()
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestBuildModels(t *testing.T) {
	t.Run("llama", func(t *testing.T) {
		m, err := BuildModels(config.ModelsConfig{Type: config.ModelLlama, Llama: config.LlamaConfig{
			BaseURL: "http://127.0.0.1:8080", EmbeddingModel: "bge-small-en-v1.5",
		}})
		require.NoError(t, err)
		assert.IsType(t, &llm.LlamaClient{}, m.Code)
		assert.IsType(t, &llm.LlamaClient{}, m.Refiner)
		assert.NotNil(t, m.Embedder)
	})

	t.Run("llama without embeddings", func(t *testing.T) {
		m, err := BuildModels(config.ModelsConfig{Type: config.ModelLlama})
		require.NoError(t, err)
		assert.Nil(t, m.Embedder)
	})

	t.Run("gemini", func(t *testing.T) {
		m, err := BuildModels(config.ModelsConfig{Type: config.ModelGemini, Gemini: config.GeminiConfig{APIKey: "k"}})
		require.NoError(t, err)
		assert.IsType(t, &llm.GeminiClient{}, m.Code)
		assert.Same(t, m.Code, m.Refiner)
		assert.Nil(t, m.Embedder)
	})

	t.Run("gemini without key", func(t *testing.T) {
		_, err := BuildModels(config.ModelsConfig{Type: config.ModelGemini})
		assert.ErrorIs(t, err, config.ErrInvalid)
	})

	t.Run("openai", func(t *testing.T) {
		_, err := BuildModels(config.ModelsConfig{Type: config.ModelOpenAI})
		assert.ErrorIs(t, err, config.ErrModelNotImplemented)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := BuildModels(config.ModelsConfig{Type: "mistral"})
		assert.ErrorIs(t, err, config.ErrUnsupportedModel)
	})
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicy(config.RefineConfig{MaxAttempts: 7, Template: "{prompt}|{response}"})
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, core.DefaultRetryPolicy().MaxTokens, p.MaxTokens)
	assert.Equal(t, core.DefaultRetryPolicy().Stop, p.Stop)
	assert.Equal(t, "q|a", p.Format("q", "a"))
}

func TestSources(t *testing.T) {
	src := Sources(config.DatasetConfig{Sources: map[string]config.SourceConfig{
		"leaft": {Location: "s3://lab/leaft.xlsx", Sheet: "S", Exclude: []string{"Notes"}},
	}})
	got, ok := src[dataset.KindLeaft]
	require.True(t, ok)
	assert.Equal(t, "s3://lab/leaft.xlsx", got.Location)
	assert.Equal(t, "S", got.Sheet)
	assert.Equal(t, []string{"Notes"}, got.Exclude)
}
