package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestBuildConfigDefaults(t *testing.T) {
	cfg, err := BuildConfig("", "python", Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "fcsp", cfg.TargetField)
	assert.Equal(t, ColumnLayout{KeyColumn: 2, MarkColumn: 7}, cfg.Layout)
	assert.Equal(t, MatchEnrollment, cfg.Match)
	assert.Equal(t, FallbackZero, cfg.Fallback)
	assert.Equal(t, PolicyHalfAdditive, cfg.Policy)
}

func TestBuildConfigPresets(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			cfg, err := BuildConfig(name, "ps", Overrides{})
			require.NoError(t, err)
			assert.NoError(t, cfg.Validate())
		})
	}

	cfg, err := BuildConfig("Compiled-Name", "etc", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, MatchName, cfg.Match)
	assert.Equal(t, FallbackReject, cfg.Fallback)
	assert.Equal(t, PolicyAdditive, cfg.Policy)
}

func TestBuildConfigOverrides(t *testing.T) {
	cfg, err := BuildConfig("sy4", "de", Overrides{
		KeyColumn:  intPtr(1),
		MarkColumn: intPtr(5),
		Policy:     "Additive",
		MatchField: "enrolment_no",
	})
	require.NoError(t, err)
	assert.Equal(t, ColumnLayout{KeyColumn: 1, MarkColumn: 5}, cfg.Layout)
	assert.Equal(t, PolicyAdditive, cfg.Policy)
	assert.Equal(t, "enrolment_no", cfg.ReconcileOptions().MatchField)
}

func TestBuildConfigMatchModeCarriesFallback(t *testing.T) {
	cfg, err := BuildConfig("marks", "ps", Overrides{Match: "name"})
	require.NoError(t, err)
	assert.Equal(t, FallbackReject, cfg.Fallback)

	cfg, err = BuildConfig("marks", "ps", Overrides{Match: "name", Fallback: "zero"})
	require.NoError(t, err)
	assert.Equal(t, FallbackZero, cfg.Fallback)

	cfg, err = BuildConfig("compiled-name", "ps", Overrides{Match: "enrollment"})
	require.NoError(t, err)
	assert.Equal(t, FallbackZero, cfg.Fallback)
}

func TestBuildConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		preset string
		o      Overrides
	}{
		{"unknown preset", "weekly", Overrides{}},
		{"negative column", "marks", Overrides{KeyColumn: intPtr(-1)}},
		{"same columns", "marks", Overrides{MarkColumn: intPtr(2)}},
		{"unknown match", "marks", Overrides{Match: "roll"}},
		{"unknown fallback", "marks", Overrides{Fallback: "skip"}},
		{"unknown policy", "marks", Overrides{Policy: "average"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildConfig(tt.preset, "ps", tt.o)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := BuildConfig("marks", "  ", Overrides{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestResolveSubject(t *testing.T) {
	field, known := ResolveSubject("Python")
	assert.Equal(t, "fcsp", field)
	assert.True(t, known)

	field, known = ResolveSubject("maths")
	assert.Equal(t, "maths", field)
	assert.False(t, known)
}

func TestMergePolicyAccumulates(t *testing.T) {
	assert.False(t, PolicyOverwrite.Accumulates())
	assert.True(t, PolicyAdditive.Accumulates())
	assert.True(t, PolicyHalfAdditive.Accumulates())
}
