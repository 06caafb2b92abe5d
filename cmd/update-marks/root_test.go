package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/marksreconciler/internal/models"
	"github.com/Lllllllleong/marksreconciler/internal/services"
)

func TestLoadConfigFlagsAndEnv(t *testing.T) {
	t.Setenv("MARKS_POLICY", "overwrite")
	t.Setenv("MARKS_MARK_COLUMN", "9")

	v := viper.New()
	cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, cmd.Flags().Parse([]string{"--store", "roster.js", "--key-column", "3", "--policy", "additive"}))
	require.NoError(t, v.BindPFlags(cmd.Flags()))
	initConfig(v)

	cfg := loadConfig(v)
	assert.Equal(t, "roster.js", cfg.Store)
	assert.Equal(t, services.DefaultPreset, cfg.Preset)
	assert.Equal(t, "additive", cfg.Policy)
	require.NotNil(t, cfg.KeyColumn)
	assert.Equal(t, 3, *cfg.KeyColumn)
	require.NotNil(t, cfg.MarkColumn)
	assert.Equal(t, 9, *cfg.MarkColumn)
}

func TestLoadConfigLeavesColumnsToPreset(t *testing.T) {
	v := viper.New()
	cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, cmd.Flags().Parse(nil))
	require.NoError(t, v.BindPFlags(cmd.Flags()))

	cfg := loadConfig(v)
	assert.Nil(t, cfg.KeyColumn)
	assert.Nil(t, cfg.MarkColumn)
	assert.Equal(t, "data.js", cfg.Store)
}

func TestRunRequiresTwoArguments(t *testing.T) {
	cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
	cmd.SetArgs([]string{"sheet.pdf"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestRunMissingSourceLeavesStore(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "data.js")
	const text = "const data = [\n  {enrollment: \"24002171310074\", name: \"A\", ps: 10}\n];\n"
	require.NoError(t, os.WriteFile(store, []byte(text), 0o644))

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs([]string{filepath.Join(dir, "missing.pdf"), "ps", "--store", store})
	err := cmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, services.ErrSourceNotFound)

	got, err := os.ReadFile(store)
	require.NoError(t, err)
	assert.Equal(t, text, string(got))
	assert.Empty(t, stdout.String())
}

func TestRunRejectsBadPreset(t *testing.T) {
	cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
	cmd.SetArgs([]string{"sheet.pdf", "ps", "--preset", "weekly"})
	assert.ErrorIs(t, cmd.ExecuteContext(context.Background()), services.ErrInvalidConfig)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &models.UpdateReport{
		TargetField:   "fcsp",
		Policy:        "half-additive",
		Pages:         3,
		Students:      58,
		Absences:      2,
		Updated:       57,
		Unmatched:     22,
		UnmatchedKeys: []string{"24002171310001", ""},
	})
	out := buf.String()
	assert.Contains(t, out, `Updated 57 students in "fcsp" (half-additive).`)
	assert.Contains(t, out, "Read 58 marks from 3 pages (2 absent, 0 unreadable).")
	assert.Contains(t, out, "  24002171310001\n")
	assert.Contains(t, out, "  (no key)\n")
	assert.Contains(t, out, "... and 20 more")

	buf.Reset()
	printSummary(&buf, &models.UpdateReport{Skipped: true, SkipReason: "already applied by run abc"})
	assert.Equal(t, "Skipped: already applied by run abc\n", buf.String())

	buf.Reset()
	printSummary(&buf, &models.UpdateReport{TargetField: "ps", Policy: "overwrite", DryRun: true})
	assert.Contains(t, buf.String(), "Would update 0 students")
}
