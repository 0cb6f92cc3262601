package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spektr-org/insight/llm"
	"github.com/spektr-org/insight/translator"
)

// ============================================================================
// RESPONSE ORCHESTRATOR — one submit → one new turn
// ============================================================================
// Guards, in order:
//   1. tab is not the insight tab  → no-op
//   2. submit counter <= 0         → no-op
//   3. blank prompt                → validation message
//   4. otherwise query, then plot or answer (raw or refined)
// The orchestrator keeps no state between calls.
// ============================================================================

// Answer modes.
const (
	ModeUseLLM = "use_llm"
	ModeRaw    = "not_use_llm"
)

// PromptRequired is the validation message for a blank prompt.
const PromptRequired = "Please enter a prompt."

// ErrNoRefiner is returned for use_llm when no refinement model is set.
var ErrNoRefiner = errors.New("refinement model is not configured")

// QueryEngine turns a question into an instruction and its textual answer.
type QueryEngine interface {
	Query(ctx context.Context, text string) (*translator.QueryResult, error)
}

// Plotter renders a plot instruction to an image data URI.
type Plotter interface {
	Plot(ctx context.Context, instruction string) (string, error)
}

// Request is one submit from the insight panel.
type Request struct {
	Tab     string
	Trigger int
	Mode    string
	Prompt  string
	Output  Transcript
}

// Result is the orchestrator's answer. A nil Output means "leave the output
// panel as it is"; Message, when set, replaces it with a notice.
type Result struct {
	Output      Transcript
	Message     string
	Instruction *string
	Attempts    int // refinement completions tried
}

// Orchestrator answers insight panel submits.
type Orchestrator struct {
	engine  QueryEngine
	plotter Plotter
	refiner llm.Completer
	policy  RetryPolicy
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRefiner sets the refinement model used in use_llm mode.
func WithRefiner(model llm.Completer) Option {
	return func(o *Orchestrator) { o.refiner = model }
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator wires the query engine and the plotter.
func NewOrchestrator(engine QueryEngine, plotter Plotter, opts ...Option) (*Orchestrator, error) {
	if engine == nil {
		return nil, errors.New("insight: query engine is required")
	}
	if plotter == nil {
		return nil, errors.New("insight: plotter is required")
	}
	o := &Orchestrator{
		engine:  engine,
		plotter: plotter,
		policy:  DefaultRetryPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// HandleQuery runs the guards and, when they pass, appends one turn to
// req.Output. Query and plotting failures are returned as errors.
func (o *Orchestrator) HandleQuery(ctx context.Context, req Request) (Result, error) {
	if req.Tab != TabInsight || req.Trigger <= 0 {
		return Result{}, nil
	}
	// whitespace-only counts as blank; the trimmed text is what gets asked and labelled
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Result{Message: PromptRequired}, nil
	}

	resp, err := o.engine.Query(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("query %q: %w", prompt, err)
	}
	instruction := resp.Instruction

	if strings.Contains(strings.ToLower(instruction), "plot") {
		uri, err := o.plotter.Plot(ctx, instruction)
		if err != nil {
			return Result{}, fmt.Errorf("plot %s: %w", instruction, err)
		}
		o.logger.Info("answered with chart", "instruction", instruction)
		return Result{
			Output:      req.Output.Append(Turn{Question: prompt, Image: uri}),
			Instruction: &instruction,
		}, nil
	}

	answer := resp.Response
	attempts := 0
	if req.Mode == ModeUseLLM {
		if o.refiner == nil {
			return Result{}, ErrNoRefiner
		}
		if !strings.HasSuffix(prompt, "?") {
			prompt += "?"
		}
		answer, attempts, err = refine(ctx, o.refiner, o.policy, prompt, resp.Response, o.logger)
		if err != nil {
			return Result{}, err
		}
	}

	o.logger.Info("answered with text", "instruction", instruction, "mode", req.Mode, "refine_attempts", attempts)
	return Result{
		Output:      req.Output.Append(Turn{Question: prompt, Answer: answer}),
		Instruction: &instruction,
		Attempts:    attempts,
	}, nil
}
