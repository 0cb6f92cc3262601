package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// ============================================================================
// DATASET PROVIDER — Kind → cleaned Table
// ============================================================================
// Every recognized kind maps to one Source. Reading is done once at startup;
// any error here is fatal for the process.
// ============================================================================

var (
	// ErrUnsupportedSource is returned for a kind with no configured source.
	ErrUnsupportedSource = errors.New("data type is not supported")
	// ErrSheetNotFound is returned when the workbook lacks the configured sheet.
	ErrSheetNotFound = errors.New("sheet not found")
	// ErrEmptyTable is returned when a source has no header row.
	ErrEmptyTable = errors.New("table is empty")
	// ErrUnsupportedFormat is returned for a source format other than xlsx or csv.
	ErrUnsupportedFormat = errors.New("unsupported source format")
	// ErrObjectNotFound is returned when an s3:// location does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// Kind names a dataset.
type Kind string

// KindLeaft is the default dataset kind.
const KindLeaft Kind = "leaft"

// Source formats.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// Source says where a kind lives and how to clean it.
type Source struct {
	Location     string // file path or s3://bucket/key
	Format       string // xlsx (default) or csv
	Sheet        string // xlsx only
	HeaderMarker string
	Exclude      []string
	DropNulls    bool
}

// LeaftSource is the built-in source of KindLeaft.
func LeaftSource(location string) Source {
	return Source{
		Location:     location,
		Format:       FormatXLSX,
		Sheet:        "Full. Crop -> Juice -> Final",
		HeaderMarker: "Trial",
		Exclude: []string{
			"Water flux",
			"Notes",
			"Flux during concentration",
			"Flux during diafiltration",
			"R.FW.Sep",
			"Membrane",
		},
		DropNulls: true,
	}
}

// Provider reads tables for configured kinds.
type Provider struct {
	sources map[Kind]Source
	objects ObjectFetcher
	logger  *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithObjectFetcher enables s3:// locations.
func WithObjectFetcher(f ObjectFetcher) Option {
	return func(p *Provider) { p.objects = f }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider creates a provider for the given sources. The map is copied.
func NewProvider(sources map[Kind]Source, opts ...Option) *Provider {
	p := &Provider{
		sources: make(map[Kind]Source, len(sources)),
		logger:  slog.Default(),
	}
	for k, s := range sources {
		p.sources[k] = s
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Kinds lists the recognized kinds in sorted order.
func (p *Provider) Kinds() []Kind {
	out := make([]Kind, 0, len(p.sources))
	for k := range p.sources {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Read loads, cleans and returns the table of kind.
func (p *Provider) Read(ctx context.Context, kind Kind) (*Table, error) {
	src, ok := p.sources[kind]
	if !ok {
		return nil, fmt.Errorf("%w: data type %s is not supported", ErrUnsupportedSource, kind)
	}

	data, err := p.fetch(ctx, src.Location)
	if err != nil {
		return nil, err
	}

	var headers []string
	var rows [][]string
	switch strings.ToLower(src.Format) {
	case "", FormatXLSX:
		headers, rows, err = ReadWorkbook(bytes.NewReader(data), src.Sheet)
	case FormatCSV:
		headers, rows, err = ReadCSV(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, src.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", kind, src.Location, err)
	}

	headers, rows = Clean(headers, rows, CleanOptions{
		HeaderMarker: src.HeaderMarker,
		Exclude:      src.Exclude,
		DropNulls:    src.DropNulls,
	}, p.logger)

	table := NewTable(string(kind), headers, rows)
	p.logger.Info("dataset loaded",
		"kind", kind,
		"location", src.Location,
		"rows", table.Len(),
		"columns", len(table.headers))
	return table, nil
}

func (p *Provider) fetch(ctx context.Context, location string) ([]byte, error) {
	if strings.HasPrefix(location, "s3://") {
		bucket, key, ok := ParseObjectLocation(location)
		if !ok {
			return nil, fmt.Errorf("invalid object location %q (want s3://bucket/key)", location)
		}
		if p.objects == nil {
			return nil, fmt.Errorf("object store is not configured for %s", location)
		}
		return p.objects.Fetch(ctx, bucket, key)
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}
