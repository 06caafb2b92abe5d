package services

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/marksreconciler/internal/gcp"
	"github.com/Lllllllleong/marksreconciler/internal/models"
	"github.com/Lllllllleong/marksreconciler/internal/pdftable"
	"github.com/Lllllllleong/marksreconciler/internal/pdftable/pdftabletest"
	"github.com/Lllllllleong/marksreconciler/internal/recordstore"
)

const oneStudentStore = "const data = [\n" +
	`  {enrollment: "24002171310074", name: "A", ps: 10}` + "\n" +
	"];\n"

func pagesWith(rows ...[]string) TableReader {
	return func(string) ([]pdftable.Page, error) {
		return []pdftable.Page{{Number: 1, Tables: []pdftable.Table{{Rows: rows}}}}, nil
	}
}

func additiveConfig(t *testing.T) EngineConfig {
	t.Helper()
	cfg, err := BuildConfig("marks", "ps", Overrides{Policy: "additive"})
	require.NoError(t, err)
	return cfg
}

type fixture struct {
	dir   string
	pdf   string
	store string
}

func newFixture(t *testing.T, storeText string) fixture {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "data.js")
	require.NoError(t, os.WriteFile(store, []byte(storeText), 0o600))
	return fixture{dir: dir, pdf: writeFakePDF(t, dir), store: store}
}

func (f fixture) storeText(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(f.store)
	require.NoError(t, err)
	return string(b)
}

func TestProcessUpdatesLocalStore(t *testing.T) {
	f := newFixture(t, oneStudentStore)
	u := NewMarksUpdater(WithScanner(NewScannerWithReader(pagesWith(sheetRow("24002171310074", "40")))))

	report, err := u.Process(context.Background(), UpdateRequest{Source: f.pdf, Store: f.store, Config: additiveConfig(t)})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Unmatched)
	assert.Equal(t, 1, report.RowsAccepted)
	assert.NotEmpty(t, report.FileHash)

	want := "const data = [\n" +
		`  {enrollment: "24002171310074", name: "A", ps: 50}` + "\n" +
		"];\n"
	assert.Equal(t, want, f.storeText(t))

	info, err := os.Stat(f.store)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestProcessReadsRuledPDF(t *testing.T) {
	f := newFixture(t, oneStudentStore)
	var page pdftabletest.Content
	xs := []float64{50, 100, 200, 300, 360}
	for c := 0; c+1 < len(xs); c++ {
		page.Rect(xs[c], 680, xs[c+1]-xs[c], 20)
	}
	for c, s := range []string{"115", "24002171310074", "ASHA K", "40"} {
		page.Text(xs[c]+5, 685, s)
	}
	sheet := pdftabletest.WriteFile(t, "week1.pdf", page.String())

	cfg, err := BuildConfig("marks", "ps", Overrides{Policy: "additive", KeyColumn: intPtr(1), MarkColumn: intPtr(3)})
	require.NoError(t, err)
	report, err := NewMarksUpdater().Process(context.Background(), UpdateRequest{Source: sheet, Store: f.store, Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 1, report.Updated)
	assert.Contains(t, f.storeText(t), "ps: 50}")
}

func TestProcessResolvesSourceNextToStore(t *testing.T) {
	f := newFixture(t, oneStudentStore)
	u := NewMarksUpdater(WithScanner(NewScannerWithReader(pagesWith(sheetRow("24002171310074", "40")))))

	report, err := u.Process(context.Background(), UpdateRequest{Source: "sheet.pdf", Store: f.store, Config: additiveConfig(t)})
	require.NoError(t, err)
	assert.Equal(t, f.pdf, report.Source)
}

func TestProcessLeavesStoreOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		store   string
		source  func(f fixture) string
		rows    [][]string
		wantErr error
	}{
		{
			name:    "missing source",
			store:   oneStudentStore,
			source:  func(f fixture) string { return filepath.Join(f.dir, "missing.pdf") },
			rows:    [][]string{sheetRow("24002171310074", "40")},
			wantErr: ErrSourceNotFound,
		},
		{
			name:    "no accepted rows",
			store:   oneStudentStore,
			source:  func(f fixture) string { return f.pdf },
			rows:    [][]string{{"Roll", "Name"}, sheetRow("12345", "40")},
			wantErr: ErrNoMarks,
		},
		{
			name:    "malformed store",
			store:   "const data = [ {enrollment: 24002171310074 ",
			source:  func(f fixture) string { return f.pdf },
			rows:    [][]string{sheetRow("24002171310074", "40")},
			wantErr: nil,
		},
		{
			name:    "sum overflows",
			store:   "const data = [\n  {enrollment: \"24002171310074\", name: \"A\", ps: 1.7e308}\n];\n",
			source:  func(f fixture) string { return f.pdf },
			rows:    [][]string{sheetRow("24002171310074", "9"+strings.Repeat("0", 307))},
			wantErr: recordstore.ErrStoreFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.store)
			u := NewMarksUpdater(WithScanner(NewScannerWithReader(pagesWith(tt.rows...))))

			_, err := u.Process(context.Background(), UpdateRequest{Source: tt.source(f), Store: f.store, Config: additiveConfig(t)})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.store, f.storeText(t))
		})
	}
}

func TestProcessMissingStore(t *testing.T) {
	f := newFixture(t, oneStudentStore)
	u := NewMarksUpdater(WithScanner(NewScannerWithReader(pagesWith(sheetRow("24002171310074", "40")))))

	_, err := u.Process(context.Background(), UpdateRequest{Source: f.pdf, Store: filepath.Join(f.dir, "other.js"), Config: additiveConfig(t)})
	assert.ErrorIs(t, err, ErrStoreNotFound)
}

func TestProcessRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, oneStudentStore)
	cfg := additiveConfig(t)
	cfg.Layout.MarkColumn = cfg.Layout.KeyColumn

	_, err := NewMarksUpdater().Process(context.Background(), UpdateRequest{Source: f.pdf, Store: f.store, Config: cfg})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProcessDryRun(t *testing.T) {
	f := newFixture(t, oneStudentStore)
	u := NewMarksUpdater(WithScanner(NewScannerWithReader(pagesWith(sheetRow("24002171310074", "40")))))

	report, err := u.Process(context.Background(), UpdateRequest{Source: f.pdf, Store: f.store, Config: additiveConfig(t), DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, oneStudentStore, f.storeText(t))
}

func TestProcessOutputOverride(t *testing.T) {
	f := newFixture(t, oneStudentStore)
	out := filepath.Join(f.dir, "out.js")
	var stdout bytes.Buffer
	u := NewMarksUpdater(
		WithScanner(NewScannerWithReader(pagesWith(sheetRow("24002171310074", "40")))),
		WithOutputWriter(&stdout),
	)

	_, err := u.Process(context.Background(), UpdateRequest{Source: f.pdf, Store: f.store, Output: out, Config: additiveConfig(t)})
	require.NoError(t, err)
	assert.Equal(t, oneStudentStore, f.storeText(t))
	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(written), "ps: 50")

	_, err = u.Process(context.Background(), UpdateRequest{Source: f.pdf, Store: f.store, Output: "-", Config: additiveConfig(t)})
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "ps: 50")
}

type fakeObjects struct {
	files      map[string][]byte
	generation int64
	writes     map[string]int64
	conflict   bool
}

func (o *fakeObjects) Download(_ context.Context, uri, dest string) error {
	b, ok := o.files[uri]
	if !ok {
		return fmt.Errorf("object %s: %w", uri, fs.ErrNotExist)
	}
	return os.WriteFile(dest, b, 0o644)
}

func (o *fakeObjects) Read(_ context.Context, uri string) ([]byte, int64, error) {
	b, ok := o.files[uri]
	if !ok {
		return nil, 0, fmt.Errorf("object %s: %w", uri, fs.ErrNotExist)
	}
	return b, o.generation, nil
}

func (o *fakeObjects) Write(_ context.Context, uri string, content []byte, generation int64) error {
	if o.conflict {
		return gcp.ErrPreconditionFailed
	}
	if o.writes == nil {
		o.writes = map[string]int64{}
	}
	o.writes[uri] = generation
	o.files[uri] = content
	return nil
}

func TestProcessCloudStorage(t *testing.T) {
	objects := &fakeObjects{
		files: map[string][]byte{
			"gs://sheets/week1.pdf": []byte("%PDF-1.4\n"),
			"gs://roster/data.js":   []byte(oneStudentStore),
		},
		generation: 7,
	}
	u := NewMarksUpdater(
		WithScanner(NewScannerWithReader(pagesWith(sheetRow("24002171310074", "40")))),
		WithObjectStore(objects),
	)

	_, err := u.Process(context.Background(), UpdateRequest{Source: "gs://sheets/week1.pdf", Store: "gs://roster/data.js", Config: additiveConfig(t)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), objects.writes["gs://roster/data.js"])
	assert.Contains(t, string(objects.files["gs://roster/data.js"]), "ps: 50")
}

func TestProcessCloudStorageConflict(t *testing.T) {
	objects := &fakeObjects{
		files: map[string][]byte{
			"gs://sheets/week1.pdf": []byte("%PDF-1.4\n"),
			"gs://roster/data.js":   []byte(oneStudentStore),
		},
		conflict: true,
	}
	u := NewMarksUpdater(
		WithScanner(NewScannerWithReader(pagesWith(sheetRow("24002171310074", "40")))),
		WithObjectStore(objects),
	)

	_, err := u.Process(context.Background(), UpdateRequest{Source: "gs://sheets/week1.pdf", Store: "gs://roster/data.js", Config: additiveConfig(t)})
	assert.ErrorIs(t, err, ErrStoreChanged)
	assert.Equal(t, oneStudentStore, string(objects.files["gs://roster/data.js"]))
}

func TestProcessCloudSourceMissing(t *testing.T) {
	objects := &fakeObjects{files: map[string][]byte{"gs://roster/data.js": []byte(oneStudentStore)}}
	u := NewMarksUpdater(WithObjectStore(objects))

	_, err := u.Process(context.Background(), UpdateRequest{Source: "gs://sheets/week1.pdf", Store: "gs://roster/data.js", Config: additiveConfig(t)})
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

type fakeLedger struct {
	applied   map[string]string
	runs      []*models.Run
	finished  map[string]string
	execution map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{applied: map[string]string{}, finished: map[string]string{}, execution: map[string]string{}}
}

func ledgerKey(hash, store, field string) string { return hash + "|" + store + "|" + field }

func (l *fakeLedger) FindApplied(_ context.Context, hash, store, field string) (string, bool, error) {
	id, ok := l.applied[ledgerKey(hash, store, field)]
	return id, ok, nil
}

func (l *fakeLedger) Begin(_ context.Context, run *models.Run) (string, error) {
	l.runs = append(l.runs, run)
	return fmt.Sprintf("run-%d", len(l.runs)), nil
}

func (l *fakeLedger) Finish(_ context.Context, runID, status string, _ *models.UpdateReport, _ string) error {
	l.finished[runID] = status
	if status == models.RunStatusApplied {
		r := l.runs[len(l.runs)-1]
		l.applied[ledgerKey(r.FileHash, r.StoreURI, r.TargetField)] = runID
	}
	return nil
}

func (l *fakeLedger) SetExecution(_ context.Context, runID, executionID string) error {
	l.execution[runID] = executionID
	return nil
}

type fakeNotifier struct{ calls int }

func (n *fakeNotifier) Notify(context.Context, string, *models.UpdateReport) (string, error) {
	n.calls++
	return fmt.Sprintf("exec-%d", n.calls), nil
}

func TestProcessAppliesAccumulatingSheetOnce(t *testing.T) {
	f := newFixture(t, oneStudentStore)
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	u := NewMarksUpdater(
		WithScanner(NewScannerWithReader(pagesWith(sheetRow("24002171310074", "40")))),
		WithRunLedger(ledger),
		WithNotifier(notifier),
	)
	req := UpdateRequest{Source: f.pdf, Store: f.store, Config: additiveConfig(t)}

	first, err := u.Process(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Equal(t, models.RunStatusApplied, ledger.finished["run-1"])
	assert.Equal(t, "exec-1", ledger.execution["run-1"])

	second, err := u.Process(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Contains(t, second.SkipReason, "run-1")
	assert.Contains(t, f.storeText(t), "ps: 50")
	assert.Equal(t, 1, notifier.calls)
}

func TestProcessOverwriteIsNotDeduplicated(t *testing.T) {
	f := newFixture(t, oneStudentStore)
	ledger := newFakeLedger()
	cfg, err := BuildConfig("sy4", "ps", Overrides{})
	require.NoError(t, err)
	u := NewMarksUpdater(
		WithScanner(NewScannerWithReader(pagesWith(sheetRow("24002171310074", "72")))),
		WithRunLedger(ledger),
	)
	req := UpdateRequest{Source: f.pdf, Store: f.store, Config: cfg}

	for i := 0; i < 2; i++ {
		report, err := u.Process(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, report.Skipped)
	}
	assert.Len(t, ledger.runs, 2)
	assert.Contains(t, f.storeText(t), "ps: 72")
}

func TestProcessMarksFailedRun(t *testing.T) {
	f := newFixture(t, oneStudentStore)
	ledger := newFakeLedger()
	u := NewMarksUpdater(
		WithScanner(NewScannerWithReader(pagesWith(sheetRow("12345", "40")))),
		WithRunLedger(ledger),
	)

	_, err := u.Process(context.Background(), UpdateRequest{Source: f.pdf, Store: f.store, Config: additiveConfig(t)})
	assert.ErrorIs(t, err, ErrNoMarks)
	assert.Equal(t, models.RunStatusFailed, ledger.finished["run-1"])
}
