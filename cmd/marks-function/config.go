package main

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/Lllllllleong/marksreconciler/internal/gcp"
	"github.com/Lllllllleong/marksreconciler/internal/models"
	"github.com/Lllllllleong/marksreconciler/internal/services"
)

// envConfig is the reconciliation setup read from the function's
// environment. Request fields take precedence where both are given.
type envConfig struct {
	StoreURI    string
	Preset      string
	KeyColumn   string
	MarkColumn  string
	MatchMode   string
	TargetField string
	Policy      string
	Fallback    string
}

func loadEnvConfig() envConfig {
	return envConfig{
		StoreURI:    gcp.GetEnv("STORE_URI", ""),
		Preset:      gcp.GetEnv("SHEET_PRESET", services.DefaultPreset),
		KeyColumn:   gcp.GetEnv("KEY_COLUMN", ""),
		MarkColumn:  gcp.GetEnv("MARK_COLUMN", ""),
		MatchMode:   gcp.GetEnv("MATCH_MODE", ""),
		TargetField: gcp.GetEnv("TARGET_FIELD", ""),
		Policy:      gcp.GetEnv("MERGE_POLICY", ""),
		Fallback:    gcp.GetEnv("FALLBACK_POLICY", ""),
	}
}

func (c envConfig) overrides() (services.Overrides, error) {
	o := services.Overrides{Match: c.MatchMode, Policy: c.Policy, Fallback: c.Fallback}
	var err error
	if o.KeyColumn, err = parseColumn("KEY_COLUMN", c.KeyColumn); err != nil {
		return o, err
	}
	if o.MarkColumn, err = parseColumn("MARK_COLUMN", c.MarkColumn); err != nil {
		return o, err
	}
	return o, nil
}

func parseColumn(name, raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer, got %q", services.ErrInvalidConfig, name, raw)
	}
	return &n, nil
}

// uploadRequest builds the request for an uploaded gradesheet. The subject
// is TARGET_FIELD when set, otherwise the folder the PDF was uploaded to,
// so gs://sheets/python/week3.pdf updates the python subject.
func (c envConfig) uploadRequest(e models.GCSEvent) (services.UpdateRequest, error) {
	if c.StoreURI == "" {
		return services.UpdateRequest{}, fmt.Errorf("%w: STORE_URI must be set", services.ErrInvalidConfig)
	}
	if err := requireObject("STORE_URI", c.StoreURI); err != nil {
		return services.UpdateRequest{}, err
	}
	subject := c.TargetField
	if subject == "" {
		subject = path.Base(path.Dir(e.Name))
		if subject == "." || subject == "/" {
			return services.UpdateRequest{}, fmt.Errorf("%w: cannot tell the subject of %q; set TARGET_FIELD or upload into a subject folder", services.ErrInvalidConfig, e.Name)
		}
	}

	o, err := c.overrides()
	if err != nil {
		return services.UpdateRequest{}, err
	}
	cfg, err := services.BuildConfig(c.Preset, subject, o)
	if err != nil {
		return services.UpdateRequest{}, err
	}
	return services.UpdateRequest{
		Source: fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name),
		Store:  c.StoreURI,
		Config: cfg,
	}, nil
}

// httpRequest merges an explicit request with the environment defaults.
func (c envConfig) httpRequest(r models.UpdateMarksRequest) (services.UpdateRequest, error) {
	if r.SourceURI == "" {
		return services.UpdateRequest{}, fmt.Errorf("%w: sourceUri is required", services.ErrInvalidConfig)
	}
	store := firstNonEmpty(r.StoreURI, c.StoreURI)
	if store == "" {
		return services.UpdateRequest{}, fmt.Errorf("%w: storeUri is required", services.ErrInvalidConfig)
	}
	subject := firstNonEmpty(r.Subject, c.TargetField)
	if subject == "" {
		return services.UpdateRequest{}, fmt.Errorf("%w: subject is required", services.ErrInvalidConfig)
	}
	// The function has no filesystem or stdout worth writing to.
	if err := requireObject("sourceUri", r.SourceURI); err != nil {
		return services.UpdateRequest{}, err
	}
	if err := requireObject("storeUri", store); err != nil {
		return services.UpdateRequest{}, err
	}
	if r.OutputURI != "" {
		if err := requireObject("outputUri", r.OutputURI); err != nil {
			return services.UpdateRequest{}, err
		}
	}

	o, err := c.overrides()
	if err != nil {
		return services.UpdateRequest{}, err
	}
	if r.KeyColumn != nil {
		o.KeyColumn = r.KeyColumn
	}
	if r.MarkColumn != nil {
		o.MarkColumn = r.MarkColumn
	}
	o.Match = firstNonEmpty(r.MatchMode, o.Match)
	o.Policy = firstNonEmpty(r.Policy, o.Policy)
	o.Fallback = firstNonEmpty(r.Fallback, o.Fallback)

	cfg, err := services.BuildConfig(firstNonEmpty(r.Preset, c.Preset), subject, o)
	if err != nil {
		return services.UpdateRequest{}, err
	}
	return services.UpdateRequest{
		Source:      r.SourceURI,
		Store:       store,
		Output:      r.OutputURI,
		Config:      cfg,
		DryRun:      r.DryRun,
		ExecutionID: r.ExecutionID,
	}, nil
}

func requireObject(name, uri string) error {
	if _, _, err := gcp.ParseGCSURI(uri); err != nil {
		return fmt.Errorf("%w: %s: %v", services.ErrInvalidConfig, name, err)
	}
	return nil
}

func isPDF(name string) bool {
	return strings.EqualFold(path.Ext(name), ".pdf")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
