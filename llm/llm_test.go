package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInstruction(t *testing.T) {
	got := FormatInstruction("  What is the mean?  ", "Be brief.")
	assert.Equal(t, "<s> [INST] <<SYS>>\n Be brief. \n<</SYS>>\n\n What is the mean? [/INST]", got)

	got = FormatInstruction("q", "")
	assert.True(t, strings.HasPrefix(got, "<s> [INST] <<SYS>>\n You are a helpful"))
}

func TestLlamaComplete(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"text":" The average yield is 12.3"}]}`))
	}))
	defer srv.Close()

	c := NewLlama(srv.URL+"/", WithModel("small"), WithTemperature(0.1))
	text, err := c.Complete(context.Background(), CompletionRequest{
		Prompt:    "Question: avg?",
		MaxTokens: 100,
		Stop:      []string{"\\n", "\n", "."},
	})
	require.NoError(t, err)

	assert.Equal(t, " The average yield is 12.3", text)
	assert.Equal(t, "small", got.Model)
	assert.Equal(t, "Question: avg?", got.Prompt)
	assert.Equal(t, 100, got.MaxTokens)
	assert.Equal(t, 0.1, got.Temperature)
	assert.Equal(t, []string{"\\n", "\n", "."}, got.Stop)
}

func TestLlamaCompleteInstructionFormat(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"text":"{}"}]}`))
	}))
	defer srv.Close()

	c := NewLlama(srv.URL, WithInstructionFormat("sys"), WithMaxTokens(512))
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "translate"})
	require.NoError(t, err)

	assert.Equal(t, FormatInstruction("translate", "sys"), got.Prompt)
	assert.Equal(t, 512, got.MaxTokens)
}

func TestLlamaCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewLlama(srv.URL).Complete(context.Background(), CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestLlamaStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusServiceUnavailable, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewLlama(srv.URL).Complete(context.Background(), CompletionRequest{Prompt: "x"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLlamaUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewLlama(url).Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLlamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"yield", "brix"}, req.Input)
		// out of order on purpose
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	vecs, err := NewLlama(srv.URL, WithModel("bge-small")).Embed(context.Background(), []string{"yield", "brix"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
}

func TestLlamaEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	_, err := NewLlama(srv.URL).Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestLlamaPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	assert.NoError(t, NewLlama(srv.URL).Ping(context.Background()))
}

func TestGeminiComplete(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"intent\":"},{"text":"\"text\"}"}]}}]}`))
	}))
	defer srv.Close()

	g := NewGemini("k", WithGeminiModel("test-model"), WithGeminiEndpoint(srv.URL+"/models/"), WithGeminiRateLimit(100, 1))
	text, err := g.Complete(context.Background(), CompletionRequest{Prompt: "p", MaxTokens: 100, Stop: []string{"."}})
	require.NoError(t, err)

	assert.Equal(t, `{"intent":"text"}`, text)
	require.NotNil(t, got.GenerationConfig)
	assert.Equal(t, 100, got.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, []string{"."}, got.GenerationConfig.StopSequences)
	assert.Nil(t, got.GenerationConfig.Temperature)
}

func TestGeminiErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := NewGemini("k", WithGeminiEndpoint(srv.URL)).Complete(context.Background(), CompletionRequest{Prompt: "p"})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = NewGemini("").Complete(context.Background(), CompletionRequest{Prompt: "p"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestFuncAdapters(t *testing.T) {
	var c Completer = CompleterFunc(func(_ context.Context, req CompletionRequest) (string, error) {
		return strings.ToUpper(req.Prompt), nil
	})
	out, err := c.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "HI", out)

	var e Embedder = EmbedderFunc(func(_ context.Context, texts []string) ([][]float64, error) {
		return [][]float64{{float64(len(texts))}}, nil
	})
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, vecs[0][0])
}
