package insight

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spektr-org/insight/llm"
)

// ============================================================================
// ANSWER REFINEMENT — bounded retries against the refinement model
// ============================================================================

// RetryPolicy bounds the refinement loop.
type RetryPolicy struct {
	MaxAttempts int      // completions tried before giving up with ""
	MaxTokens   int      // per-attempt generation budget
	Stop        []string // generation stops at any of these
	Template    string   // {prompt} and {response} are substituted
}

// DefaultRetryPolicy allows 100 short attempts stopped at the first line
// break or period.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 100,
		MaxTokens:   100,
		Stop:        []string{`\n`, "\n", "."},
		Template:    "Question: {prompt}\nData answer: {response}\nAnswer:",
	}
}

// Format fills the template.
func (p RetryPolicy) Format(prompt, response string) string {
	return strings.NewReplacer("{prompt}", prompt, "{response}", response).Replace(p.Template)
}

// refine asks model until it returns non-blank text, with double quotes
// removed. After MaxAttempts blank answers it returns "". A failed call
// counts as a blank attempt. Only context cancellation is an error.
func refine(ctx context.Context, model llm.Completer, policy RetryPolicy, prompt, response string, logger *slog.Logger) (string, int, error) {
	req := llm.CompletionRequest{
		Prompt:    policy.Format(prompt, response),
		MaxTokens: policy.MaxTokens,
		Stop:      policy.Stop,
	}

	attempts := 0
	for attempts < policy.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return "", attempts, err
		}
		attempts++

		text, err := model.Complete(ctx, req)
		if err != nil {
			logger.Warn("refinement attempt failed", "attempt", attempts, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			return strings.ReplaceAll(text, `"`, ""), attempts, nil
		}
		logger.Debug("refinement attempt was empty", "attempt", attempts)
	}

	logger.Warn("refinement gave up", "attempts", attempts)
	return "", attempts, nil
}
