package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/marksreconciler/internal/gcp"
	"github.com/Lllllllleong/marksreconciler/internal/models"
	"github.com/Lllllllleong/marksreconciler/internal/recordstore"
)

// ObjectStore reads and writes gs:// objects. Missing objects are reported
// as fs.ErrNotExist and lost conditional writes as gcp.ErrPreconditionFailed.
type ObjectStore interface {
	Download(ctx context.Context, uri, destPath string) error
	Read(ctx context.Context, uri string) ([]byte, int64, error)
	Write(ctx context.Context, uri string, content []byte, generation int64) error
}

// RunLedger keeps a history of runs so accumulating merges are applied once.
type RunLedger interface {
	FindApplied(ctx context.Context, fileHash, storeURI, targetField string) (string, bool, error)
	Begin(ctx context.Context, run *models.Run) (string, error)
	Finish(ctx context.Context, runID, status string, report *models.UpdateReport, errDetails string) error
}

// executionRecorder is implemented by ledgers that can link a run to the
// workflow execution it started.
type executionRecorder interface {
	SetExecution(ctx context.Context, runID, executionID string) error
}

// Notifier is told about every applied run.
type Notifier interface {
	Notify(ctx context.Context, runID string, report *models.UpdateReport) (string, error)
}

// UpdateRequest describes one reconciliation run.
type UpdateRequest struct {
	// Source is the gradesheet PDF, a local path or gs:// URI. Relative
	// paths that do not exist are looked up next to a local store.
	Source string
	// Store is the record store, a local path or gs:// URI.
	Store string
	// Output overrides where the updated store is written; "-" writes to
	// the updater's output writer.
	Output      string
	Config      EngineConfig
	DryRun      bool
	ExecutionID string
}

// MarksUpdater carries a gradesheet from PDF to record store. The store is
// written only after every earlier step has succeeded.
type MarksUpdater struct {
	scanner  *Scanner
	objects  ObjectStore
	ledger   RunLedger
	notifier Notifier
	stdout   io.Writer
}

// UpdaterOption configures a MarksUpdater.
type UpdaterOption func(*MarksUpdater)

func WithScanner(s *Scanner) UpdaterOption { return func(u *MarksUpdater) { u.scanner = s } }

func WithObjectStore(o ObjectStore) UpdaterOption { return func(u *MarksUpdater) { u.objects = o } }

func WithRunLedger(l RunLedger) UpdaterOption { return func(u *MarksUpdater) { u.ledger = l } }

func WithNotifier(n Notifier) UpdaterOption { return func(u *MarksUpdater) { u.notifier = n } }

func WithOutputWriter(w io.Writer) UpdaterOption { return func(u *MarksUpdater) { u.stdout = w } }

// NewMarksUpdater returns an updater for local files. Cloud Storage, the
// run ledger and the workflow notifier are added through options.
func NewMarksUpdater(opts ...UpdaterOption) *MarksUpdater {
	u := &MarksUpdater{scanner: NewScanner(), stdout: os.Stdout}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// UpdaterConfig holds the environment configuration of the cloud updater.
type UpdaterConfig struct {
	ProjectID        string
	RunsCollection   string
	WorkflowID       string
	WorkflowLocation string
}

// NewMarksUpdaterFromEnv builds an updater with Cloud Storage access and,
// when PROJECT_ID is set, the Firestore run ledger. WORKFLOW_ID enables the
// downstream workflow trigger.
func NewMarksUpdaterFromEnv(ctx context.Context) (*MarksUpdater, error) {
	config := UpdaterConfig{
		ProjectID:        gcp.GetEnv("PROJECT_ID", ""),
		RunsCollection:   gcp.GetEnv("RUNS_COLLECTION", "reconciliationRuns"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}

	objects, err := gcp.NewGCSStore(ctx)
	if err != nil {
		return nil, err
	}
	opts := []UpdaterOption{WithObjectStore(objects)}

	if config.ProjectID != "" {
		ledger, err := gcp.NewFirestoreLedger(ctx, config.ProjectID, config.RunsCollection)
		if err != nil {
			return nil, fmt.Errorf("failed to create run ledger: %w", err)
		}
		opts = append(opts, WithRunLedger(ledger))

		if config.WorkflowID != "" {
			trigger, err := gcp.NewWorkflowTrigger(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithNotifier(trigger))
		}
	} else if config.WorkflowID != "" {
		return nil, fmt.Errorf("WORKFLOW_ID requires PROJECT_ID to be set")
	}

	slog.Info("Marks updater initialized.", "projectId", config.ProjectID, "runLedger", config.ProjectID != "", "workflowId", config.WorkflowID)
	return NewMarksUpdater(opts...), nil
}

// storeInput is the record store text and where it came from.
type storeInput struct {
	text       string
	generation int64
}

// Process runs one reconciliation. On any error nothing has been written.
func (u *MarksUpdater) Process(ctx context.Context, req UpdateRequest) (*models.UpdateReport, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	cfg := req.Config
	source := u.resolveSource(req.Source, req.Store)
	logCtx := slog.With("source", source, "store", req.Store, "targetField", cfg.TargetField, "policy", cfg.Policy)
	if req.ExecutionID != "" {
		logCtx = logCtx.With("executionId", req.ExecutionID)
	}
	logCtx.Info("Starting marks update.")

	report := &models.UpdateReport{
		Source:      source,
		Store:       req.Store,
		Output:      req.Output,
		TargetField: cfg.TargetField,
		Policy:      string(cfg.Policy),
		DryRun:      req.DryRun,
	}

	tempDir, err := os.MkdirTemp("", "marks-update-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	// --- 1. Fetch both inputs ---
	pdfPath, store, err := u.fetchInputs(ctx, source, req.Store, tempDir)
	if err != nil {
		logCtx.Error("Failed to fetch inputs", "error", err)
		return nil, err
	}

	fileHash, err := calculateFileHash(pdfPath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrSourceNotFound, source, err)
	}
	report.FileHash = fileHash
	logCtx = logCtx.With("fileHash", fileHash)

	// --- 2. Guard against applying an accumulating merge twice ---
	var runID string
	if u.ledger != nil && !req.DryRun {
		if cfg.Policy.Accumulates() {
			prevID, found, err := u.ledger.FindApplied(ctx, fileHash, req.Store, cfg.TargetField)
			if err != nil {
				logCtx.Error("Failed to check for an earlier run", "error", err)
				return nil, err
			}
			if found {
				logCtx.Info("Gradesheet already applied to this field. Skipping.", "existingRunId", prevID)
				report.Skipped = true
				report.SkipReason = fmt.Sprintf("already applied by run %s", prevID)
				return report, nil
			}
		}
		runID, err = u.ledger.Begin(ctx, &models.Run{
			FileHash:    fileHash,
			SourceURI:   source,
			StoreURI:    req.Store,
			TargetField: cfg.TargetField,
			Policy:      string(cfg.Policy),
		})
		if err != nil {
			logCtx.Error("Failed to create run document", "error", err)
			return nil, err
		}
		logCtx = logCtx.With("runId", runID)
	}

	// --- 3. Scan the gradesheet ---
	scan, err := u.scanner.ScanFile(ctx, pdfPath, cfg.Extractor())
	if err != nil {
		return nil, u.handleError(ctx, logCtx, runID, "failed to scan source document", err)
	}
	report.Pages = scan.Pages
	report.RowsAccepted = scan.RowsAccepted
	report.Absences = scan.Absences
	report.Fallbacks = scan.Fallbacks
	report.Students = len(scan.Marks)
	if scan.RowsAccepted == 0 {
		return nil, u.handleError(ctx, logCtx, runID, "refusing to update store", fmt.Errorf("%w: check the key and mark columns (%d, %d)", ErrNoMarks, cfg.Layout.KeyColumn, cfg.Layout.MarkColumn))
	}

	// --- 4. Decode and reconcile ---
	doc, err := recordstore.Decode(store.text)
	if err != nil {
		return nil, u.handleError(ctx, logCtx, runID, "failed to decode record store", err)
	}
	result := Reconcile(doc.Records, scan.Marks, cfg.ReconcileOptions())
	doc.Records = result.Records
	report.Updated = result.Updated
	report.Unmatched = result.Unmatched
	report.UnmatchedKeys = result.UnmatchedKeys
	logCtx.Info("Reconciled records.", "records", len(doc.Records), "updated", result.Updated, "unmatched", result.Unmatched)

	// --- 5. Write the new store in one step ---
	encoded, err := doc.Encode()
	if err != nil {
		return nil, u.handleError(ctx, logCtx, runID, "failed to encode record store", err)
	}
	content := []byte(encoded)
	if req.DryRun {
		logCtx.Info("Dry run: store left unchanged.")
		return report, nil
	}
	if err := u.writeOutput(ctx, req, store.generation, content); err != nil {
		return nil, u.handleError(ctx, logCtx, runID, "failed to write record store", err)
	}
	logCtx.Info("Record store updated.", "output", u.outputTarget(req))

	// --- 6. Record the run and notify ---
	if u.ledger != nil && runID != "" {
		if err := u.ledger.Finish(ctx, runID, models.RunStatusApplied, report, ""); err != nil {
			logCtx.Error("Store written but the run could not be marked APPLIED.", "error", err)
		}
	}
	if u.notifier != nil {
		if execID, err := u.notifier.Notify(ctx, runID, report); err != nil {
			logCtx.Warn("Failed to notify downstream workflow", "error", err)
		} else {
			logCtx.Info("Triggered downstream workflow.", "workflowExecution", execID)
			if rec, ok := u.ledger.(executionRecorder); ok && runID != "" {
				if err := rec.SetExecution(ctx, runID, execID); err != nil {
					logCtx.Warn("Failed to record workflow execution on run", "error", err)
				}
			}
		}
	}
	return report, nil
}

// resolveSource makes a relative local source path that does not exist
// relative to the working directory relative to the store's directory.
func (u *MarksUpdater) resolveSource(source, store string) string {
	if gcp.IsGCSURI(source) || filepath.IsAbs(source) || gcp.IsGCSURI(store) {
		return source
	}
	if _, err := os.Stat(source); err == nil {
		return source
	}
	candidate := filepath.Join(filepath.Dir(store), source)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return source
}

// fetchInputs downloads the PDF when remote and reads the store text. Both
// happen before scanning begins.
func (u *MarksUpdater) fetchInputs(ctx context.Context, source, storeURI, tempDir string) (string, storeInput, error) {
	var pdfPath string
	var store storeInput

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if !gcp.IsGCSURI(source) {
			pdfPath = source
			return nil
		}
		if u.objects == nil {
			return fmt.Errorf("%w: %s: no object store configured", ErrSourceNotFound, source)
		}
		dest := filepath.Join(tempDir, "source.pdf")
		if err := u.objects.Download(gctx, source, dest); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %v", ErrSourceNotFound, err)
			}
			return fmt.Errorf("failed to download source document: %w", err)
		}
		pdfPath = dest
		return nil
	})
	eg.Go(func() error {
		if !gcp.IsGCSURI(storeURI) {
			content, err := os.ReadFile(storeURI)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("%w: %v", ErrStoreNotFound, err)
				}
				return fmt.Errorf("failed to read record store: %w", err)
			}
			store = storeInput{text: string(content), generation: -1}
			return nil
		}
		if u.objects == nil {
			return fmt.Errorf("%w: %s: no object store configured", ErrStoreNotFound, storeURI)
		}
		content, generation, err := u.objects.Read(gctx, storeURI)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %v", ErrStoreNotFound, err)
			}
			return fmt.Errorf("failed to read record store: %w", err)
		}
		store = storeInput{text: string(content), generation: generation}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return "", storeInput{}, err
	}
	return pdfPath, store, nil
}

func (u *MarksUpdater) outputTarget(req UpdateRequest) string {
	if req.Output != "" {
		return req.Output
	}
	return req.Store
}

func (u *MarksUpdater) writeOutput(ctx context.Context, req UpdateRequest, generation int64, content []byte) error {
	target := u.outputTarget(req)
	switch {
	case target == "-":
		_, err := u.stdout.Write(append(content, '\n'))
		return err
	case gcp.IsGCSURI(target):
		if u.objects == nil {
			return fmt.Errorf("cannot write %s: no object store configured", target)
		}
		if target != req.Store {
			generation = -1
		}
		if err := u.objects.Write(ctx, target, content, generation); err != nil {
			if errors.Is(err, gcp.ErrPreconditionFailed) {
				return fmt.Errorf("%w: %v", ErrStoreChanged, err)
			}
			return err
		}
		return nil
	default:
		return writeFileAtomically(target, content)
	}
}

// writeFileAtomically writes content to a sibling temp file and renames it
// over path, so readers never see a half-written store.
func writeFileAtomically(path string, content []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func (u *MarksUpdater) handleError(ctx context.Context, logCtx *slog.Logger, runID, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	if u.ledger != nil && runID != "" {
		fullError := fmt.Sprintf("%s: %v", message, originalErr)
		if err := u.ledger.Finish(ctx, runID, models.RunStatusFailed, nil, fullError); err != nil {
			logCtx.Error("CRITICAL: Failed to mark run as FAILED after a processing error.", "updateError", err)
		}
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
