package dataset

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/spektr-org/insight/engine"
	"github.com/spektr-org/insight/logging"
	"github.com/spektr-org/insight/schema"
)

const leaftSheet = "Full. Crop -> Juice -> Final"

// writeWorkbook saves rows into sheet of a new workbook under t.TempDir().
func writeWorkbook(t *testing.T, sheet string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	_, err := f.NewSheet(sheet)
	require.NoError(t, err)
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &rows[i]))
	}

	path := filepath.Join(t.TempDir(), "leaft.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func leaftRows() [][]any {
	return [][]any{
		{"Leaft trial export"},
		{"Trial", "Variety", "Site", "Yield", "Notes", "Membrane", "Brix"},
		{1, "Gala", "North", 10.5, "ok", "PES", 12.5},
		{2, "Fuji", "North", 12.25, "", "PES", 14.5},
		{3, "Honeycrisp", "South", "NaN", "late", "PVDF", 11},
		{4, "Gala", "South", 14.15, "ok", "PES", 13},
	}
}

// ============================================================================
// PROVIDER
// ============================================================================

func TestProviderReadLeaft(t *testing.T) {
	path := writeWorkbook(t, leaftSheet+"  ", leaftRows())

	var logs bytes.Buffer
	p := NewProvider(map[Kind]Source{KindLeaft: LeaftSource(path)},
		WithLogger(logging.NewWithWriter(&logs, slog.LevelDebug, "text")))

	table, err := p.Read(context.Background(), KindLeaft)
	require.NoError(t, err)

	assert.Equal(t, "leaft", table.Name())
	assert.Equal(t, []string{"Trial", "Variety", "Site", "Yield", "Brix"}, table.Headers())
	require.Equal(t, 3, table.Len())

	trials, ok := table.Column("Trial")
	require.True(t, ok)
	assert.Equal(t, []string{"1", "2", "4"}, trials, "null row dropped, rows renumbered")

	view := table.View()
	assert.True(t, engine.IsMeasure(view, "Yield"))
	assert.InDelta(t, 12.3, engine.AvgMeasure(view, "Yield"), 1e-9)

	// the four absent exclude names are reported, Notes and Membrane still dropped
	out := logs.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "excluded columns not in dataframe")
	assert.Contains(t, out, "Water flux")
}

func TestProviderSheetNotFound(t *testing.T) {
	path := writeWorkbook(t, "Summary", leaftRows())
	p := NewProvider(map[Kind]Source{KindLeaft: LeaftSource(path)}, WithLogger(logging.Nop()))

	_, err := p.Read(context.Background(), KindLeaft)
	require.ErrorIs(t, err, ErrSheetNotFound)
	assert.Contains(t, err.Error(), "Summary")
	assert.Contains(t, err.Error(), "Sheet1")
}

func TestProviderUnsupportedKind(t *testing.T) {
	p := NewProvider(map[Kind]Source{KindLeaft: LeaftSource("unused.xlsx")})

	_, err := p.Read(context.Background(), "parquet")
	assert.ErrorIs(t, err, ErrUnsupportedSource)
	assert.Equal(t, []Kind{KindLeaft}, p.Kinds())
}

func TestProviderUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	p := NewProvider(map[Kind]Source{"json": {Location: path, Format: "json"}})
	_, err := p.Read(context.Background(), "json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestProviderMissingFile(t *testing.T) {
	p := NewProvider(map[Kind]Source{KindLeaft: LeaftSource(filepath.Join(t.TempDir(), "nope.xlsx"))})
	_, err := p.Read(context.Background(), KindLeaft)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestProviderReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.csv")
	csv := "Trial,Variety,Yield\n1,Gala,10\n2,Fuji,\n3,Gala,12\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	p := NewProvider(map[Kind]Source{"trials": {Location: path, Format: "csv", HeaderMarker: "Trial", DropNulls: true}})
	table, err := p.Read(context.Background(), "trials")
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"1", "Gala", "10"}, {"3", "Gala", "12"}}, table.Rows())
}

type fakeObjects struct {
	data   map[string][]byte
	bucket string
	key    string
}

func (f *fakeObjects) Fetch(_ context.Context, bucket, key string) ([]byte, error) {
	f.bucket, f.key = bucket, key
	data, ok := f.data[bucket+"/"+key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return data, nil
}

func TestProviderReadObjectStore(t *testing.T) {
	path := writeWorkbook(t, leaftSheet, leaftRows())
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	objects := &fakeObjects{data: map[string][]byte{"datasets/leaft/2023.xlsx": data}}
	p := NewProvider(map[Kind]Source{KindLeaft: LeaftSource("s3://datasets/leaft/2023.xlsx")},
		WithObjectFetcher(objects), WithLogger(logging.Nop()))

	table, err := p.Read(context.Background(), KindLeaft)
	require.NoError(t, err)
	assert.Equal(t, "datasets", objects.bucket)
	assert.Equal(t, "leaft/2023.xlsx", objects.key)
	assert.Equal(t, 3, table.Len())

	p = NewProvider(map[Kind]Source{KindLeaft: LeaftSource("s3://datasets/missing.xlsx")}, WithObjectFetcher(objects))
	_, err = p.Read(context.Background(), KindLeaft)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	p = NewProvider(map[Kind]Source{KindLeaft: LeaftSource("s3://datasets/leaft/2023.xlsx")})
	_, err = p.Read(context.Background(), KindLeaft)
	assert.Error(t, err, "no fetcher configured")
}

func TestParseObjectLocation(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		ok          bool
	}{
		{"s3://data/leaft.xlsx", "data", "leaft.xlsx", true},
		{"s3://data/a/b/c.csv", "data", "a/b/c.csv", true},
		{"s3://data", "", "", false},
		{"s3:///key", "", "", false},
		{"data/leaft.xlsx", "", "", false},
	}
	for _, tt := range tests {
		bucket, key, ok := ParseObjectLocation(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.bucket, bucket, tt.in)
		assert.Equal(t, tt.key, key, tt.in)
	}
}

func TestNewObjectStore(t *testing.T) {
	_, err := NewObjectStore(ObjectStoreOptions{})
	assert.Error(t, err)

	s, err := NewObjectStore(ObjectStoreOptions{Endpoint: "https://minio.local:9000", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

// ============================================================================
// READERS
// ============================================================================

func TestReadWorkbookTrimsSheetNames(t *testing.T) {
	path := writeWorkbook(t, "Yields ", [][]any{{"Trial", "Yield"}, {1, 2.5}})
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	headers, rows, err := ReadWorkbook(f, "Yields")
	require.NoError(t, err)
	assert.Equal(t, []string{"Trial", "Yield"}, headers)
	assert.Equal(t, [][]string{{"1", "2.5"}}, rows)
}

func TestReadCSV(t *testing.T) {
	headers, rows, err := ReadCSV(strings.NewReader("a,b\n1,2\n3\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, headers)
	assert.Equal(t, [][]string{{"1", "2"}, {"3"}}, rows)

	_, _, err = ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyTable)
}

// ============================================================================
// CLEANING
// ============================================================================

func TestCleanPromotesHeader(t *testing.T) {
	headers := []string{"export", ""}
	rows := [][]string{{"Trial", "Yield"}, {"1", "10"}}

	h, r := Clean(headers, rows, CleanOptions{HeaderMarker: "Trial"}, logging.Nop())
	assert.Equal(t, []string{"Trial", "Yield"}, h)
	assert.Equal(t, [][]string{{"1", "10"}}, r)

	// marker already present: untouched
	h, r = Clean(rows[0], rows[1:], CleanOptions{HeaderMarker: "Trial"}, logging.Nop())
	assert.Equal(t, []string{"Trial", "Yield"}, h)
	assert.Len(t, r, 1)
}

func TestCleanExcludesAndToleratesMissing(t *testing.T) {
	headers := []string{"Trial", "Notes", "Yield", "Membrane"}
	rows := [][]string{{"1", "n", "10", "PES"}, {"2", "", "11", "PES"}}

	var logs bytes.Buffer
	h, r := Clean(headers, rows, CleanOptions{
		Exclude:   []string{"Notes", "Water flux", "Membrane"},
		DropNulls: true,
	}, logging.NewWithWriter(&logs, slog.LevelInfo, "text"))

	assert.Equal(t, []string{"Trial", "Yield"}, h)
	assert.Equal(t, [][]string{{"1", "10"}, {"2", "11"}}, r, "null in an excluded column does not drop the row")
	assert.Contains(t, logs.String(), "Water flux")

	// inputs untouched
	assert.Equal(t, []string{"Trial", "Notes", "Yield", "Membrane"}, headers)
	assert.Equal(t, "n", rows[0][1])
}

func TestCleanDropNulls(t *testing.T) {
	headers := []string{"Trial", "Yield"}
	rows := [][]string{{"1", "10"}, {"2", "NaN"}, {"3", " "}, {"4"}, {"5", "n/a"}, {"6", "12"}}

	_, r := Clean(headers, rows, CleanOptions{DropNulls: true}, nil)
	assert.Equal(t, [][]string{{"1", "10"}, {"6", "12"}}, r)

	_, r = Clean(headers, rows, CleanOptions{}, nil)
	assert.Len(t, r, 6, "nulls kept when drop_nulls is off")
}

// ============================================================================
// TABLE
// ============================================================================

func TestNewTableHeadersAndPadding(t *testing.T) {
	table := NewTable("t", []string{"Yield", " Yield ", "", "Yield"}, [][]string{{"1"}, {"1", "2", "3", "4", "5"}})

	assert.Equal(t, []string{"Yield", "Yield.1", "Unnamed: 2", "Yield.2"}, table.Headers())
	assert.Equal(t, [][]string{{"1", "", "", ""}, {"1", "2", "3", "4"}}, table.Rows())
}

func TestTableAccessorsReturnCopies(t *testing.T) {
	src := [][]string{{"Gala", "10"}, {"Fuji", "12"}}
	table := NewTable("t", []string{"Variety", "Yield"}, src)

	src[0][0] = "MUTATED"
	assert.Equal(t, "Gala", table.View().Dimension(0, "Variety"), "constructor copies")

	rows := table.Rows()
	rows[0][0] = "MUTATED"
	headers := table.Headers()
	headers[0] = "MUTATED"
	col, _ := table.Column("Variety")
	col[1] = "MUTATED"

	assert.Equal(t, [][]string{{"Gala", "10"}, {"Fuji", "12"}}, table.Rows())
	assert.Equal(t, []string{"Variety", "Yield"}, table.Headers())

	_, ok := table.Column("Brix")
	assert.False(t, ok)
}

func TestTableFilter(t *testing.T) {
	table := NewTable("t", []string{"Variety", "Yield"}, [][]string{{"Gala", "10"}, {"Fuji", "12"}, {"Honeycrisp", "9"}})

	rows, err := table.Filter("Variety", "FU")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Fuji", "12"}}, rows)

	rows, err = table.Filter("Variety", "")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = table.Filter("Variety", "zzz")
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = table.Filter("Brix", "1")
	assert.True(t, errors.Is(err, engine.ErrUnknownColumn))
}

func TestTableSchema(t *testing.T) {
	table := NewTable("leaft", []string{"Variety", "Yield"}, [][]string{{"Gala", "10.5"}, {"Fuji", "12.25"}, {"Gala", "10.5"}})

	cfg, err := table.Schema()
	require.NoError(t, err)
	assert.Equal(t, "leaft", cfg.Name)
	assert.Equal(t, []string{"variety"}, cfg.DimensionKeys())
	assert.Equal(t, "Yield", cfg.GetDefaultMeasure())

	again, err := table.Schema()
	require.NoError(t, err)
	assert.Same(t, cfg, again)

	refined := &schema.Config{Name: "Refined"}
	other := table.WithSchema(refined)
	got, err := other.Schema()
	require.NoError(t, err)
	assert.Same(t, refined, got)
	assert.Equal(t, table.Rows(), other.Rows())
}
