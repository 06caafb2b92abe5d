package services

import "github.com/Lllllllleong/marksreconciler/internal/models"

// DefaultUnmatchedCap bounds the unmatched keys kept for reporting.
const DefaultUnmatchedCap = 20

// ReconcileOptions selects the target field, how records are matched and
// which merge policy applies.
type ReconcileOptions struct {
	TargetField  string
	Match        MatchMode
	MatchField   string
	Policy       MergePolicy
	UnmatchedCap int
}

func (o ReconcileOptions) matchField() string {
	if o.MatchField != "" {
		return o.MatchField
	}
	return o.Match.Field()
}

// Reconcile merges marks into a copy of records. Every returned record
// carries the target field: matched records get the merged mark, unmatched
// records keep their value or get 0 when they had none.
func Reconcile(records models.RecordCollection, marks models.MarkMap, opts ReconcileOptions) models.ReconcileResult {
	limit := opts.UnmatchedCap
	if limit <= 0 {
		limit = DefaultUnmatchedCap
	}
	field := opts.matchField()

	res := models.ReconcileResult{Records: records.Clone()}
	for i := range res.Records {
		rec := &res.Records[i]

		var key string
		if v, ok := rec.Get(field); ok {
			key = opts.Match.RecordKey(v)
		}

		mark, found := marks[key]
		if key == "" || !found {
			if !rec.Has(opts.TargetField) {
				rec.Set(opts.TargetField, models.Number(0))
			}
			res.Unmatched++
			if len(res.UnmatchedKeys) < limit {
				res.UnmatchedKeys = append(res.UnmatchedKeys, key)
			}
			continue
		}

		prior := 0.0
		if v, ok := rec.Get(opts.TargetField); ok {
			if f, ok := v.Float(); ok {
				prior = f
			}
		}
		rec.Set(opts.TargetField, models.Number(opts.Policy.Apply(prior, mark.Value)))
		res.Updated++
	}
	return res
}
