package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Lllllllleong/marksreconciler/internal/models"
)

// MatchMode selects which record field joins PDF rows to stored records.
// A run uses exactly one mode.
type MatchMode string

const (
	MatchEnrollment MatchMode = "enrollment"
	MatchName       MatchMode = "name"
)

// Field is the record field the mode matches on.
func (m MatchMode) Field() string { return string(m) }

// Validator is the key validator applied to PDF key cells in this mode.
func (m MatchMode) Validator() KeyValidator {
	if m == MatchName {
		return NameKeys
	}
	return EnrollmentKeys
}

// RecordKey normalizes a stored value the same way the validator
// normalizes PDF cells, so both sides compare equal.
func (m MatchMode) RecordKey(v models.Value) string {
	if m == MatchName {
		return NormalizeName(v.Text())
	}
	return strings.TrimSpace(v.Text())
}

// MergePolicy is the rule combining a stored mark with a PDF mark.
type MergePolicy string

const (
	// PolicyOverwrite replaces the stored mark.
	PolicyOverwrite MergePolicy = "overwrite"
	// PolicyAdditive adds the PDF mark to the stored mark.
	PolicyAdditive MergePolicy = "additive"
	// PolicyHalfAdditive adds half of the PDF mark to the stored mark.
	PolicyHalfAdditive MergePolicy = "half-additive"
)

// Apply combines the prior value (0 when the field was absent) with mark.
func (p MergePolicy) Apply(prior, mark float64) float64 {
	switch p {
	case PolicyAdditive:
		return prior + mark
	case PolicyHalfAdditive:
		return prior + mark/2
	default:
		return mark
	}
}

// Accumulates reports whether applying the same sheet twice changes the
// result again.
func (p MergePolicy) Accumulates() bool {
	return p == PolicyAdditive || p == PolicyHalfAdditive
}

// EngineConfig fully describes one reconciliation: where the key and mark
// sit in the sheet, how keys are matched, and how marks are merged.
type EngineConfig struct {
	Layout      ColumnLayout
	Match       MatchMode
	Fallback    FallbackPolicy
	Policy      MergePolicy
	TargetField string
	// MatchField overrides the record field used for matching; it defaults
	// to the match mode's own field.
	MatchField string
}

// Validate checks the configuration before any file is touched.
func (c EngineConfig) Validate() error {
	if c.Layout.KeyColumn < 0 || c.Layout.MarkColumn < 0 {
		return fmt.Errorf("%w: column indices must be non-negative (key %d, mark %d)", ErrInvalidConfig, c.Layout.KeyColumn, c.Layout.MarkColumn)
	}
	if c.Layout.KeyColumn == c.Layout.MarkColumn {
		return fmt.Errorf("%w: key and mark columns must differ (both %d)", ErrInvalidConfig, c.Layout.KeyColumn)
	}
	switch c.Match {
	case MatchEnrollment, MatchName:
	default:
		return fmt.Errorf("%w: unknown match mode %q", ErrInvalidConfig, c.Match)
	}
	switch c.Fallback {
	case FallbackZero, FallbackReject:
	default:
		return fmt.Errorf("%w: unknown fallback policy %q", ErrInvalidConfig, c.Fallback)
	}
	switch c.Policy {
	case PolicyOverwrite, PolicyAdditive, PolicyHalfAdditive:
	default:
		return fmt.Errorf("%w: unknown merge policy %q", ErrInvalidConfig, c.Policy)
	}
	if strings.TrimSpace(c.TargetField) == "" {
		return fmt.Errorf("%w: target field must be set", ErrInvalidConfig)
	}
	return nil
}

// Extractor builds the row extractor for this configuration.
func (c EngineConfig) Extractor() RowExtractor {
	return RowExtractor{Layout: c.Layout, Keys: c.Match.Validator(), Fallback: c.Fallback}
}

// ReconcileOptions derives the reconciler options for this configuration.
func (c EngineConfig) ReconcileOptions() ReconcileOptions {
	return ReconcileOptions{
		TargetField: c.TargetField,
		Match:       c.Match,
		MatchField:  c.MatchField,
		Policy:      c.Policy,
	}
}

// Preset is a known gradesheet layout together with the merge rule the
// sheet is normally applied with.
type Preset struct {
	Name        string
	Description string
	Layout      ColumnLayout
	Match       MatchMode
	Fallback    FallbackPolicy
	Policy      MergePolicy
}

// Presets lists the sheet layouts seen so far.
var Presets = map[string]Preset{
	"marks": {
		Name:        "marks",
		Description: "term marksheet keyed by enrollment; half of the PDF mark is added",
		Layout:      ColumnLayout{KeyColumn: 2, MarkColumn: 7},
		Match:       MatchEnrollment,
		Fallback:    FallbackZero,
		Policy:      PolicyHalfAdditive,
	},
	"sy4": {
		Name:        "sy4",
		Description: "SY4 marksheet out of 100 keyed by enrollment; the PDF mark replaces the stored one",
		Layout:      ColumnLayout{KeyColumn: 2, MarkColumn: 7},
		Match:       MatchEnrollment,
		Fallback:    FallbackZero,
		Policy:      PolicyOverwrite,
	},
	"compiled-enrollment": {
		Name:        "compiled-enrollment",
		Description: "compiled marksheet keyed by enrollment in column 4; the PDF mark replaces the stored one",
		Layout:      ColumnLayout{KeyColumn: 4, MarkColumn: 8},
		Match:       MatchEnrollment,
		Fallback:    FallbackZero,
		Policy:      PolicyOverwrite,
	},
	"compiled-name": {
		Name:        "compiled-name",
		Description: "compiled marksheet keyed by student name; the PDF mark is added in full",
		Layout:      ColumnLayout{KeyColumn: 6, MarkColumn: 8},
		Match:       MatchName,
		Fallback:    FallbackReject,
		Policy:      PolicyAdditive,
	},
}

// DefaultPreset is used when neither a preset nor a full layout is given.
const DefaultPreset = "marks"

// LookupPreset returns the named preset.
func LookupPreset(name string) (Preset, error) {
	p, ok := Presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, fmt.Errorf("%w: unknown preset %q (known: %s)", ErrInvalidConfig, name, strings.Join(PresetNames(), ", "))
	}
	return p, nil
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Config returns the engine configuration of the preset for targetField.
func (p Preset) Config(targetField string) EngineConfig {
	return EngineConfig{
		Layout:      p.Layout,
		Match:       p.Match,
		Fallback:    p.Fallback,
		Policy:      p.Policy,
		TargetField: targetField,
	}
}

// subjectAliases maps the subject names used on the command line to
// record fields.
var subjectAliases = map[string]string{
	"ps":     "ps",
	"fsd":    "fsd",
	"de":     "de",
	"python": "fcsp",
	"fcsp":   "fcsp",
	"etc":    "etc",
	"od":     "od",
}

// ResolveSubject maps a subject name to its record field. Unknown subjects
// are used verbatim and reported as such.
func ResolveSubject(subject string) (field string, known bool) {
	s := strings.ToLower(strings.TrimSpace(subject))
	if f, ok := subjectAliases[s]; ok {
		return f, true
	}
	return s, false
}

// Overrides carries explicit settings that take precedence over a preset.
// Nil or empty fields leave the preset's value in place.
type Overrides struct {
	KeyColumn  *int
	MarkColumn *int
	Match      string
	Fallback   string
	Policy     string
	MatchField string
}

// BuildConfig resolves a preset, applies overrides and validates the
// result.
func BuildConfig(preset, subject string, o Overrides) (EngineConfig, error) {
	if preset == "" {
		preset = DefaultPreset
	}
	p, err := LookupPreset(preset)
	if err != nil {
		return EngineConfig{}, err
	}
	field, _ := ResolveSubject(subject)
	cfg := p.Config(field)

	if o.KeyColumn != nil {
		cfg.Layout.KeyColumn = *o.KeyColumn
	}
	if o.MarkColumn != nil {
		cfg.Layout.MarkColumn = *o.MarkColumn
	}
	if o.Match != "" {
		cfg.Match = MatchMode(strings.ToLower(o.Match))
		// A different match mode carries its own fallback unless one is
		// given explicitly.
		if o.Fallback == "" && cfg.Match != p.Match {
			cfg.Fallback = FallbackZero
			if cfg.Match == MatchName {
				cfg.Fallback = FallbackReject
			}
		}
	}
	if o.Fallback != "" {
		cfg.Fallback = FallbackPolicy(strings.ToLower(o.Fallback))
	}
	if o.Policy != "" {
		cfg.Policy = MergePolicy(strings.ToLower(o.Policy))
	}
	cfg.MatchField = o.MatchField

	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}
