// Package app wires configuration into a running dashboard: it loads the
// dataset, builds the model clients and assembles the orchestrator, the
// session store and the front ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/spektr-org/insight"
	"github.com/spektr-org/insight/config"
	"github.com/spektr-org/insight/dataset"
	"github.com/spektr-org/insight/engine"
	core "github.com/spektr-org/insight/insight"
	"github.com/spektr-org/insight/llm"
	"github.com/spektr-org/insight/mcpserver"
	"github.com/spektr-org/insight/render"
	"github.com/spektr-org/insight/schema"
	"github.com/spektr-org/insight/server"
	"github.com/spektr-org/insight/session"
	"github.com/spektr-org/insight/translator"
)

// ============================================================================
// APP — config -> table -> models -> orchestrator -> front ends
// ============================================================================
// Every step that fails here is fatal: an unsupported dataset kind or model
// type, a missing sheet, an unreachable Redis.
// ============================================================================

// Models are the language model clients the app uses.
type Models struct {
	Code     llm.Completer // question -> instruction
	Refiner  llm.Completer // rephrases raw answers in use_llm mode
	Embedder llm.Embedder  // optional column ranking
}

// App holds the assembled components.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Table        *dataset.Table
	Schema       *schema.Config
	Models       Models
	Engine       *translator.QueryEngine
	Plotter      *render.Plotter
	Orchestrator *core.Orchestrator
	Sessions     session.Store

	closers []func() error
}

// Option overrides a step of New.
type Option func(*options)

type options struct {
	table   *dataset.Table
	models  *Models
	fetcher dataset.ObjectFetcher
	store   session.Store
}

// WithTable skips the dataset provider.
func WithTable(t *dataset.Table) Option {
	return func(o *options) { o.table = t }
}

// WithModels replaces the clients built from the models section.
func WithModels(m Models) Option {
	return func(o *options) { o.models = &m }
}

// WithObjectFetcher replaces the object store client built from config.
func WithObjectFetcher(f dataset.ObjectFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithSessionStore replaces the store selected by session.backend.
func WithSessionStore(s session.Store) Option {
	return func(o *options) { o.store = s }
}

// New assembles the app. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}

	// 1. Dataset
	table := o.table
	if table == nil {
		var err error
		table, err = LoadTable(ctx, cfg, logger, o.fetcher)
		if err != nil {
			return nil, err
		}
	}

	// 2. Models
	if o.models != nil {
		a.Models = *o.models
	} else {
		models, err := BuildModels(cfg.Models)
		if err != nil {
			return nil, err
		}
		a.Models = models
		probe(ctx, models.Code, logger)
	}

	// 3. Schema, optionally enriched by the code model
	sch, err := table.Schema()
	if err != nil {
		return nil, fmt.Errorf("discover schema: %w", err)
	}
	if cfg.Dataset.RefineSchema {
		refined, err := schema.Refine(ctx, sch, a.Models.Code, logger)
		if err != nil {
			logger.Warn("schema refinement failed, using discovered schema", "error", err)
		} else {
			sch = refined
			table = table.WithSchema(refined)
		}
	}
	a.Table = table
	a.Schema = sch

	// 4. Query engine, plotter, orchestrator
	topts := []translator.Option{translator.WithLogger(logger)}
	if a.Models.Embedder != nil {
		topts = append(topts, translator.WithEmbedder(a.Models.Embedder))
	}
	if cfg.Models.Type == config.ModelLlama {
		topts = append(topts, translator.WithMaxTokens(cfg.Models.Llama.MaxTokens))
	}
	a.Engine, err = translator.New(a.Models.Code, table.View(), *sch, topts...)
	if err != nil {
		return nil, err
	}

	a.Plotter = &render.Plotter{
		View: table.View(),
		Options: []engine.Option{
			engine.WithDefaultMeasure(sch.GetDefaultMeasure()),
			engine.WithHistogramBins(cfg.Render.HistBins),
			engine.WithLogger(logger),
		},
		Width:  cfg.Render.Width,
		Height: cfg.Render.Height,
	}

	orchOpts := []core.Option{
		core.WithRetryPolicy(RetryPolicy(cfg.Refine)),
		core.WithLogger(logger),
	}
	if a.Models.Refiner != nil {
		orchOpts = append(orchOpts, core.WithRefiner(a.Models.Refiner))
	}
	a.Orchestrator, err = core.NewOrchestrator(a.Engine, a.Plotter, orchOpts...)
	if err != nil {
		return nil, err
	}

	// 5. Sessions
	a.Sessions = o.store
	if a.Sessions == nil {
		if err := a.openSessions(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// LoadTable reads and cleans the configured dataset kind. fetcher may be
// nil; an object store client is then built when object_store.endpoint is
// set.
func LoadTable(ctx context.Context, cfg *config.Config, logger *slog.Logger, fetcher dataset.ObjectFetcher) (*dataset.Table, error) {
	if fetcher == nil && cfg.ObjectStore.Endpoint != "" {
		store, err := dataset.NewObjectStore(dataset.ObjectStoreOptions{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Region:    cfg.ObjectStore.Region,
			Secure:    cfg.ObjectStore.Secure,
		})
		if err != nil {
			return nil, err
		}
		fetcher = store
	}

	popts := []dataset.Option{dataset.WithLogger(logger)}
	if fetcher != nil {
		popts = append(popts, dataset.WithObjectFetcher(fetcher))
	}
	provider := dataset.NewProvider(Sources(cfg.Dataset), popts...)
	return provider.Read(ctx, dataset.Kind(cfg.Dataset.Kind))
}

func (a *App) openSessions(ctx context.Context) error {
	sc := a.Config.Session
	switch sc.Backend {
	case "redis":
		store := session.NewRedisStore(sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB,
			session.WithPrefix(sc.Redis.Prefix),
			session.WithTTL(sc.Redis.TTL),
		)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("connect session redis %s: %w", sc.Redis.Addr, err)
		}
		a.Sessions = store
		a.closers = append(a.closers, store.Close)
	default:
		a.Sessions = session.NewMemoryStore()
	}
	a.Logger.Info("session store ready", "backend", sc.Backend)
	return nil
}

// Sources converts the configured sources to provider sources.
func Sources(dc config.DatasetConfig) map[dataset.Kind]dataset.Source {
	out := make(map[dataset.Kind]dataset.Source, len(dc.Sources))
	for kind, sc := range dc.Sources {
		out[dataset.Kind(kind)] = dataset.Source{
			Location:     sc.Location,
			Format:       sc.Format,
			Sheet:        sc.Sheet,
			HeaderMarker: sc.HeaderMarker,
			Exclude:      sc.Exclude,
			DropNulls:    sc.DropNulls,
		}
	}
	return out
}

// RetryPolicy converts the refine section.
func RetryPolicy(rc config.RefineConfig) core.RetryPolicy {
	p := core.DefaultRetryPolicy()
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = rc.MaxAttempts
	}
	if rc.MaxTokens > 0 {
		p.MaxTokens = rc.MaxTokens
	}
	if rc.Stop != nil {
		p.Stop = rc.Stop
	}
	if rc.Template != "" {
		p.Template = rc.Template
	}
	return p
}

// BuildModels creates the clients for the selected model type. Gemini has
// no embedding endpoint, so column ranking is off with it.
func BuildModels(mc config.ModelsConfig) (Models, error) {
	if err := config.ValidateModelType(mc.Type); err != nil {
		return Models{}, err
	}
	switch mc.Type {
	case config.ModelGemini:
		if mc.Gemini.APIKey == "" {
			return Models{}, fmt.Errorf("%w: models.gemini.api_key is required", config.ErrInvalid)
		}
		g := llm.NewGemini(mc.Gemini.APIKey,
			llm.WithGeminiModel(mc.Gemini.Model),
			llm.WithGeminiEndpoint(mc.Gemini.Endpoint),
		)
		return Models{Code: g, Refiner: g}, nil
	}

	lc := mc.Llama
	system := lc.SystemPrompt
	if system == "" {
		system = llm.DefaultSystemPrompt
	}
	m := Models{
		Code: llm.NewLlama(lc.BaseURL,
			llm.WithModel(lc.CodeModel),
			llm.WithTemperature(lc.Temperature),
			llm.WithMaxTokens(lc.MaxTokens),
			llm.WithInstructionFormat(system),
			llm.WithTimeout(lc.Timeout),
		),
		Refiner: llm.NewLlama(lc.BaseURL,
			llm.WithModel(lc.LLMModel),
			llm.WithTemperature(lc.Temperature),
			llm.WithTimeout(lc.Timeout),
		),
	}
	if lc.EmbeddingModel != "" {
		m.Embedder = llm.NewLlama(lc.BaseURL,
			llm.WithModel(lc.EmbeddingModel),
			llm.WithTimeout(lc.Timeout),
		)
	}
	return m, nil
}

// probe logs whether the code model answers. An unreachable server is not
// fatal; questions fail until it comes up.
func probe(ctx context.Context, model llm.Completer, logger *slog.Logger) {
	p, ok := model.(interface{ Ping(context.Context) error })
	if !ok {
		return
	}
	if err := p.Ping(ctx); err != nil {
		logger.Warn("code model is not reachable", "error", err)
		return
	}
	logger.Info("code model reachable")
}

// Handler builds the dashboard handler. reg may be nil.
func (a *App) Handler(reg *prometheus.Registry) (http.Handler, error) {
	var limiter *rate.Limiter
	if sc := a.Config.Server; sc.RateLimit > 0 {
		burst := sc.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(sc.RateLimit), burst)
	}
	return server.NewHandler(server.Deps{
		Asker:    a.Orchestrator,
		Table:    a.Table,
		Sessions: a.Sessions,
		Limiter:  limiter,
		Registry: reg,
		Logger:   a.Logger,
		Version:  insight.Version,
	})
}

// MCP builds the MCP server.
func (a *App) MCP() (*mcpserver.Server, error) {
	return mcpserver.New(a.Orchestrator, a.Table, mcpserver.WithLogger(a.Logger))
}

// Close releases the session store connection.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
