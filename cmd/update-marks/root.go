package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Lllllllleong/marksreconciler/internal/gcp"
	"github.com/Lllllllleong/marksreconciler/internal/logging"
	"github.com/Lllllllleong/marksreconciler/internal/models"
	"github.com/Lllllllleong/marksreconciler/internal/services"
)

// cliConfig is the resolved command configuration. Flags take precedence
// over MARKS_* environment variables, which take precedence over .env files.
type cliConfig struct {
	Store      string
	Preset     string
	KeyColumn  *int
	MarkColumn *int
	Match      string
	MatchField string
	Fallback   string
	Policy     string
	Output     string
	DryRun     bool
	Project    string
	Collection string
	LogLevel   string
	LogFormat  string
}

func initConfig(v *viper.Viper) {
	// Missing .env files are fine.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	v.SetEnvPrefix("MARKS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func loadConfig(v *viper.Viper) cliConfig {
	cfg := cliConfig{
		Store:      v.GetString("store"),
		Preset:     v.GetString("preset"),
		Match:      v.GetString("match"),
		MatchField: v.GetString("match-field"),
		Fallback:   v.GetString("fallback"),
		Policy:     v.GetString("policy"),
		Output:     v.GetString("output"),
		DryRun:     v.GetBool("dry-run"),
		Project:    v.GetString("project"),
		Collection: v.GetString("runs-collection"),
		LogLevel:   v.GetString("log-level"),
		LogFormat:  v.GetString("log-format"),
	}
	if v.IsSet("key-column") {
		n := v.GetInt("key-column")
		cfg.KeyColumn = &n
	}
	if v.IsSet("mark-column") {
		n := v.GetInt("mark-column")
		cfg.MarkColumn = &n
	}
	return cfg
}

func (c cliConfig) overrides() services.Overrides {
	return services.Overrides{
		KeyColumn:  c.KeyColumn,
		MarkColumn: c.MarkColumn,
		Match:      c.Match,
		Fallback:   c.Fallback,
		Policy:     c.Policy,
		MatchField: c.MatchField,
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "update-marks <pdf> <subject>",
		Short: "Merge gradesheet PDF marks into the student record store",
		Long: `update-marks reads the mark table of a gradesheet PDF and merges each
student's mark into the record store under the subject's field.

Sheet layouts are chosen with --preset:
  ` + presetHelp() + `

Either file may be a gs:// URI. The store is rewritten in one step and is
left untouched when anything fails.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			initConfig(v)
			return runUpdate(cmd, args, loadConfig(v), stdout, stderr)
		},
	}

	flags := cmd.Flags()
	flags.String("store", "data.js", "record store file or gs:// URI")
	flags.String("preset", services.DefaultPreset, "sheet layout preset ("+strings.Join(services.PresetNames(), ", ")+")")
	flags.Int("key-column", 0, "0-based column holding the student key (overrides the preset)")
	flags.Int("mark-column", 0, "0-based column holding the mark (overrides the preset)")
	flags.String("match", "", "match records by enrollment or name (overrides the preset)")
	flags.String("match-field", "", "record field to match on (defaults to the match mode's field)")
	flags.String("fallback", "", "unreadable mark cells: zero or reject (overrides the preset)")
	flags.String("policy", "", "merge policy: overwrite, additive or half-additive (overrides the preset)")
	flags.StringP("output", "o", "", "write the updated store here instead of in place; - for stdout")
	flags.Bool("dry-run", false, "report what would change without writing")
	flags.String("project", "", "GCP project for the Firestore run ledger; empty disables it")
	flags.String("runs-collection", "reconciliationRuns", "Firestore collection of the run ledger")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	_ = v.BindPFlags(flags)

	return cmd
}

func presetHelp() string {
	lines := make([]string, 0, len(services.Presets))
	for _, name := range services.PresetNames() {
		p := services.Presets[name]
		lines = append(lines, fmt.Sprintf("%-20s %s", name, p.Description))
	}
	return strings.Join(lines, "\n  ")
}

func runUpdate(cmd *cobra.Command, args []string, cfg cliConfig, stdout, stderr io.Writer) error {
	logging.Setup(stderr, cfg.LogLevel, cfg.LogFormat)
	ctx := cmd.Context()
	source, subject := args[0], args[1]

	if field, known := services.ResolveSubject(subject); !known {
		slog.Warn("Unknown subject; using it as the field name.", "subject", subject, "field", field)
	}
	engineCfg, err := services.BuildConfig(cfg.Preset, subject, cfg.overrides())
	if err != nil {
		return err
	}

	opts := []services.UpdaterOption{services.WithOutputWriter(stdout)}
	if gcp.IsGCSURI(source) || gcp.IsGCSURI(cfg.Store) || gcp.IsGCSURI(cfg.Output) {
		objects, err := gcp.NewGCSStore(ctx)
		if err != nil {
			return err
		}
		defer objects.Close()
		opts = append(opts, services.WithObjectStore(objects))
	}
	if cfg.Project != "" {
		ledger, err := gcp.NewFirestoreLedger(ctx, cfg.Project, cfg.Collection)
		if err != nil {
			return err
		}
		defer ledger.Close()
		opts = append(opts, services.WithRunLedger(ledger))
	}

	report, err := services.NewMarksUpdater(opts...).Process(ctx, services.UpdateRequest{
		Source: source,
		Store:  cfg.Store,
		Output: cfg.Output,
		Config: engineCfg,
		DryRun: cfg.DryRun,
	})
	if err != nil {
		return err
	}

	summary := stdout
	if cfg.Output == "-" {
		summary = stderr
	}
	printSummary(summary, report)
	return nil
}

func printSummary(w io.Writer, r *models.UpdateReport) {
	if r.Skipped {
		fmt.Fprintf(w, "Skipped: %s\n", r.SkipReason)
		return
	}
	verb := "Updated"
	if r.DryRun {
		verb = "Would update"
	}
	fmt.Fprintf(w, "%s %d students in %q (%s).\n", verb, r.Updated, r.TargetField, r.Policy)
	fmt.Fprintf(w, "Read %d marks from %d pages (%d absent, %d unreadable).\n", r.Students, r.Pages, r.Absences, r.Fallbacks)
	if r.Unmatched == 0 {
		return
	}
	fmt.Fprintf(w, "%d students not found in the gradesheet", r.Unmatched)
	if len(r.UnmatchedKeys) > 0 {
		fmt.Fprintf(w, ":\n")
		for _, k := range r.UnmatchedKeys {
			if k == "" {
				k = "(no key)"
			}
			fmt.Fprintf(w, "  %s\n", k)
		}
		if more := r.Unmatched - len(r.UnmatchedKeys); more > 0 {
			fmt.Fprintf(w, "  ... and %d more\n", more)
		}
		return
	}
	fmt.Fprintln(w, ".")
}
