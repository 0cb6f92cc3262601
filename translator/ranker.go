package translator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/spektr-org/insight/llm"
	"github.com/spektr-org/insight/schema"
)

// ============================================================================
// COLUMN RANKER — embedding similarity between question and columns
// ============================================================================
// Column descriptions are embedded once and cached; each question costs one
// embedding call.
// ============================================================================

// ColumnRanker orders columns by relevance to a question.
type ColumnRanker struct {
	embedder llm.Embedder
	columns  []string
	texts    []string

	mu      sync.Mutex
	vectors [][]float64
}

// NewColumnRanker prepares one description per dimension and real measure.
func NewColumnRanker(embedder llm.Embedder, sch schema.Config) *ColumnRanker {
	r := &ColumnRanker{embedder: embedder}
	for _, d := range sch.Dimensions {
		r.add(d.Column, d.DisplayName, d.Description, strings.Join(limit(d.SampleValues, 5), ", "))
	}
	for _, m := range sch.Measures {
		if m.IsSynthetic {
			continue
		}
		r.add(m.Column, m.DisplayName, m.Description, m.Unit)
	}
	return r
}

func (r *ColumnRanker) add(column string, parts ...string) {
	if column == "" {
		return
	}
	text := column
	for _, p := range parts {
		if p != "" && p != column {
			text += ". " + p
		}
	}
	r.columns = append(r.columns, column)
	r.texts = append(r.texts, text)
}

// Rank returns up to k column names, most similar first.
func (r *ColumnRanker) Rank(ctx context.Context, question string, k int) ([]string, error) {
	if len(r.columns) == 0 || k <= 0 {
		return nil, nil
	}
	cols, err := r.columnVectors(ctx)
	if err != nil {
		return nil, err
	}
	q, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(q) != 1 {
		return nil, fmt.Errorf("embed question: got %d vectors", len(q))
	}

	type scored struct {
		column string
		score  float64
	}
	ranked := make([]scored, len(cols))
	for i, v := range cols {
		ranked[i] = scored{column: r.columns[i], score: cosineSim(q[0], v)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, k)
	for i := range out {
		out[i] = ranked[i].column
	}
	return out, nil
}

func (r *ColumnRanker) columnVectors(ctx context.Context) ([][]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vectors != nil {
		return r.vectors, nil
	}
	vecs, err := r.embedder.Embed(ctx, r.texts)
	if err != nil {
		return nil, fmt.Errorf("embed columns: %w", err)
	}
	if len(vecs) != len(r.texts) {
		return nil, fmt.Errorf("embed columns: sent %d, got %d", len(r.texts), len(vecs))
	}
	r.vectors = vecs
	return vecs, nil
}

func cosineSim(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func limit(vals []string, n int) []string {
	if len(vals) <= n {
		return vals
	}
	return vals[:n]
}
