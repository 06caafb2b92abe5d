package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/marksreconciler/internal/models"
	"github.com/Lllllllleong/marksreconciler/internal/recordstore"
	"github.com/Lllllllleong/marksreconciler/internal/services"
)

var (
	updaterInstance *services.MarksUpdater
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("UpdateMarksFromUpload", updateMarksFromUpload)
	functions.HTTP("HandleUpdateMarks", handleUpdateMarks)
}

// main is required by the Go Functions Framework.
func main() {}

func getUpdater() (*services.MarksUpdater, error) {
	once.Do(func() {
		updaterInstance, initErr = services.NewMarksUpdaterFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
	}
	return updaterInstance, initErr
}

// updateMarksFromUpload reacts to a gradesheet PDF landing in a bucket and
// merges it into the store named by STORE_URI.
func updateMarksFromUpload(ctx context.Context, e cloudevents.Event) error {
	updater, err := getUpdater()
	if err != nil {
		return err
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	if !isPDF(gcsEvent.Name) {
		slog.Info("Ignoring non-PDF upload.", "bucket", gcsEvent.Bucket, "name", gcsEvent.Name)
		return nil
	}

	env := loadEnvConfig()
	req, err := env.uploadRequest(gcsEvent)
	if err != nil {
		slog.Error("Invalid function configuration", "error", err)
		return err
	}

	// Errors are logged with context inside Process; returning one marks the
	// invocation as failed.
	_, err = updater.Process(ctx, req)
	if errors.Is(err, services.ErrNoMarks) {
		// Retrying will not make the sheet readable.
		return nil
	}
	return err
}

// handleUpdateMarks runs one update described by a JSON UpdateMarksRequest.
func handleUpdateMarks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	updater, err := getUpdater()
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	var body models.UpdateMarksRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	env := loadEnvConfig()
	req, err := env.httpRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := updater.Process(r.Context(), req)
	if err != nil {
		writeJSON(w, statusFor(err), models.UpdateMarksResponse{Status: err.Error()})
		return
	}
	status := "APPLIED"
	switch {
	case report.Skipped:
		status = "SKIPPED"
	case report.DryRun:
		status = "DRY_RUN"
	}
	writeJSON(w, http.StatusOK, models.UpdateMarksResponse{Status: status, Report: report})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidConfig), errors.Is(err, services.ErrNoMarks),
		errors.Is(err, recordstore.ErrStoreFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrSourceNotFound), errors.Is(err, services.ErrStoreNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrStoreChanged):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
