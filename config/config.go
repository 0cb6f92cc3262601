package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIG — YAML file + INSIGHT_* environment overlay
// ============================================================================
// Load order: defaults -> YAML file -> environment -> typed decode -> Validate.
// Environment names are derived from the dotted key path of every default,
// e.g. server.addr -> INSIGHT_SERVER_ADDR, models.llama.base_url ->
// INSIGHT_MODELS_LLAMA_BASE_URL.
// ============================================================================

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INSIGHT_"

// Model types.
const (
	ModelLlama  = "llama"
	ModelGemini = "gemini"
	ModelOpenAI = "openai"
)

var (
	// ErrUnsupportedModel is returned for a model type nothing knows about.
	ErrUnsupportedModel = errors.New("unsupported model type")
	// ErrModelNotImplemented is returned for a recognized model type without a client.
	ErrModelNotImplemented = errors.New("model type not implemented")
	// ErrInvalid wraps every other validation failure.
	ErrInvalid = errors.New("invalid configuration")
)

// Config is the complete process configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Dataset     DatasetConfig     `mapstructure:"dataset" yaml:"dataset"`
	Models      ModelsConfig      `mapstructure:"models" yaml:"models"`
	Refine      RefineConfig      `mapstructure:"refine" yaml:"refine"`
	Render      RenderConfig      `mapstructure:"render" yaml:"render"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP dashboard.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // submits per second, 0 disables
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatasetConfig selects the dataset kind and lists the known sources.
type DatasetConfig struct {
	Kind         string                  `mapstructure:"kind" yaml:"kind"`
	RefineSchema bool                    `mapstructure:"refine_schema" yaml:"refine_schema"`
	Sources      map[string]SourceConfig `mapstructure:"sources" yaml:"sources"`
}

// SourceConfig describes where a dataset kind lives and how to clean it.
type SourceConfig struct {
	Location     string   `mapstructure:"location" yaml:"location"` // file path or s3://bucket/key
	Format       string   `mapstructure:"format" yaml:"format"`     // xlsx or csv
	Sheet        string   `mapstructure:"sheet" yaml:"sheet"`
	HeaderMarker string   `mapstructure:"header_marker" yaml:"header_marker"`
	Exclude      []string `mapstructure:"exclude" yaml:"exclude"`
	DropNulls    bool     `mapstructure:"drop_nulls" yaml:"drop_nulls"`
}

// ModelsConfig selects and configures the language model backend.
type ModelsConfig struct {
	Type   string       `mapstructure:"type" yaml:"type"`
	Llama  LlamaConfig  `mapstructure:"llama" yaml:"llama"`
	Gemini GeminiConfig `mapstructure:"gemini" yaml:"gemini"`
}

// LlamaConfig points at an OpenAI-compatible llama.cpp server.
type LlamaConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	CodeModel      string        `mapstructure:"code_model" yaml:"code_model"`
	LLMModel       string        `mapstructure:"llm_model" yaml:"llm_model"`
	EmbeddingModel string        `mapstructure:"embedding_model" yaml:"embedding_model"`
	Temperature    float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	SystemPrompt   string        `mapstructure:"system_prompt" yaml:"system_prompt"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// GeminiConfig configures the hosted Gemini backend.
type GeminiConfig struct {
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Model    string `mapstructure:"model" yaml:"model"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// RefineConfig is the answer refinement retry policy.
type RefineConfig struct {
	MaxAttempts int      `mapstructure:"max_attempts" yaml:"max_attempts"`
	MaxTokens   int      `mapstructure:"max_tokens" yaml:"max_tokens"`
	Stop        []string `mapstructure:"stop" yaml:"stop"`
	Template    string   `mapstructure:"template" yaml:"template"`
}

// RenderConfig sizes the chart images.
type RenderConfig struct {
	Width    int `mapstructure:"width" yaml:"width"`
	Height   int `mapstructure:"height" yaml:"height"`
	HistBins int `mapstructure:"hist_bins" yaml:"hist_bins"`
}

// SessionConfig selects the session backend.
type SessionConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"` // memory or redis
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// ObjectStoreConfig configures S3-compatible dataset fetches.
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Region    string `mapstructure:"region" yaml:"region"`
	Secure    bool   `mapstructure:"secure" yaml:"secure"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultRefineTemplate asks the refinement model for a one-sentence answer.
const DefaultRefineTemplate = `Given the question and the data answer below, reply with one short sentence that answers the question.
Question: {prompt}
Data answer: {response}
Answer:`

// Defaults returns the configuration used when nothing overrides it.
func Defaults() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"addr":             "0.0.0.0:8050",
			"rate_limit":       0.0,
			"rate_burst":       5,
			"shutdown_timeout": "5s",
		},
		"dataset": map[string]any{
			"kind":          "leaft",
			"refine_schema": false,
			"sources": map[string]any{
				"leaft": map[string]any{
					"location":      "data/leaft.xlsx",
					"format":        "xlsx",
					"sheet":         "Full. Crop -> Juice -> Final",
					"header_marker": "Trial",
					"exclude": []any{
						"Water flux",
						"Notes",
						"Flux during concentration",
						"Flux during diafiltration",
						"R.FW.Sep",
						"Membrane",
					},
					"drop_nulls": true,
				},
			},
		},
		"models": map[string]any{
			"type": ModelLlama,
			"llama": map[string]any{
				"base_url":        "http://127.0.0.1:8080",
				"code_model":      "codellama-7b-instruct.Q8_0.gguf",
				"llm_model":       "llama-2-7b-chat.Q4_K_M.gguf",
				"embedding_model": "bge-small-en-v1.5",
				"temperature":     0.1,
				"max_tokens":      1024,
				"system_prompt":   "",
				"timeout":         "120s",
			},
			"gemini": map[string]any{
				"api_key":  "",
				"model":    "gemini-2.5-flash-lite",
				"endpoint": "https://generativelanguage.googleapis.com/v1beta/models",
			},
		},
		"refine": map[string]any{
			"max_attempts": 100,
			"max_tokens":   100,
			"stop":         []any{`\n`, "\n", "."},
			"template":     DefaultRefineTemplate,
		},
		"render": map[string]any{
			"width":     800,
			"height":    480,
			"hist_bins": 10,
		},
		"session": map[string]any{
			"backend": "memory",
			"redis": map[string]any{
				"addr":     "127.0.0.1:6379",
				"password": "",
				"db":       0,
				"prefix":   "insight:session:",
				"ttl":      "24h",
			},
		},
		"object_store": map[string]any{
			"endpoint":   "",
			"access_key": "",
			"secret_key": "",
			"region":     "",
			"secure":     true,
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "text",
		},
	}
}

// Load reads the YAML file at path (optional, empty skips it), applies the
// environment overlay and validates the result.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	raw := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var file map[string]any
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		merge(raw, file)
	}

	applyEnv(raw, "", lookup)

	cfg, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(raw map[string]any) (*Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the cross-field rules that decoding cannot express.
func (c *Config) Validate() error {
	if err := ValidateModelType(c.Models.Type); err != nil {
		return err
	}
	if c.Refine.MaxAttempts < 1 {
		return fmt.Errorf("%w: refine.max_attempts must be at least 1", ErrInvalid)
	}
	if c.Refine.MaxTokens < 1 {
		return fmt.Errorf("%w: refine.max_tokens must be at least 1", ErrInvalid)
	}
	if c.Render.Width < 0 || c.Render.Height < 0 {
		return fmt.Errorf("%w: render width and height must not be negative", ErrInvalid)
	}
	if c.Render.HistBins < 1 {
		return fmt.Errorf("%w: render.hist_bins must be at least 1", ErrInvalid)
	}
	if c.Dataset.Kind == "" {
		return fmt.Errorf("%w: dataset.kind is required", ErrInvalid)
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: session.backend must be memory or redis, got %q", ErrInvalid, c.Session.Backend)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("%w: server.rate_limit must not be negative", ErrInvalid)
	}
	return nil
}

// ValidateModelType accepts llama and gemini. openai is known but has no client.
func ValidateModelType(t string) error {
	switch t {
	case ModelLlama, ModelGemini:
		return nil
	case ModelOpenAI:
		return fmt.Errorf("%w: %s", ErrModelNotImplemented, t)
	}
	return fmt.Errorf("%w: %q (must be %s, %s or %s)", ErrUnsupportedModel, t, ModelLlama, ModelGemini, ModelOpenAI)
}

// ============================================================================
// MAP HELPERS
// ============================================================================

// merge overlays src onto dst, recursing into nested maps.
func merge(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			merge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

// applyEnv replaces every leaf of m whose derived variable is set.
func applyEnv(m map[string]any, prefix string, lookup func(string) (string, bool)) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			applyEnv(nested, path, lookup)
			continue
		}
		if v, ok := lookup(EnvName(path)); ok {
			m[k] = v
		}
	}
}

// EnvName returns the environment variable that overrides a dotted key path.
func EnvName(path string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}
