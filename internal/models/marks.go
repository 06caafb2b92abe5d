package models

// Mark is one student's mark read from a gradesheet. Value is never
// negative; an absent student carries Value 0 with Absent set.
type Mark struct {
	Value  float64
	Absent bool
}

// MarkMap maps a student key (enrollment number or normalized name) to the
// mark read for it. When a sheet lists a key twice the later row wins.
type MarkMap map[string]Mark

// ScanResult is what one pass over a gradesheet PDF produced.
type ScanResult struct {
	Marks        MarkMap
	RowsSeen     int
	RowsAccepted int
	Absences     int
	Fallbacks    int
	Tables       int
	Pages        int
}

// ReconcileResult is the outcome of merging a MarkMap into a collection.
type ReconcileResult struct {
	Records       RecordCollection
	Updated       int
	Unmatched     int
	UnmatchedKeys []string
}

// UpdateReport summarises one run for the logging layer and the run ledger.
type UpdateReport struct {
	Source        string   `json:"source" firestore:"source"`
	Store         string   `json:"store" firestore:"store"`
	Output        string   `json:"output,omitempty" firestore:"output,omitempty"`
	TargetField   string   `json:"targetField" firestore:"targetField"`
	Policy        string   `json:"policy" firestore:"policy"`
	FileHash      string   `json:"fileHash" firestore:"fileHash"`
	Pages         int      `json:"pages" firestore:"pages"`
	RowsAccepted  int      `json:"rowsAccepted" firestore:"rowsAccepted"`
	Absences      int      `json:"absences" firestore:"absences"`
	Fallbacks     int      `json:"fallbacks" firestore:"fallbacks"`
	Students      int      `json:"students" firestore:"students"`
	Updated       int      `json:"updated" firestore:"updated"`
	Unmatched     int      `json:"unmatched" firestore:"unmatched"`
	UnmatchedKeys []string `json:"unmatchedKeys,omitempty" firestore:"unmatchedKeys,omitempty"`
	DryRun        bool     `json:"dryRun,omitempty" firestore:"dryRun,omitempty"`
	Skipped       bool     `json:"skipped,omitempty" firestore:"skipped,omitempty"`
	SkipReason    string   `json:"skipReason,omitempty" firestore:"skipReason,omitempty"`
}
