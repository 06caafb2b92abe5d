package models

import "time"

// Run is the ledger record for one reconciliation in Firestore.
// It tracks which gradesheet was merged into which store field, so that an
// accumulating merge is never applied twice.
type Run struct {
	FileHash            string        `firestore:"fileHash,omitempty"`
	SourceURI           string        `firestore:"sourceUri,omitempty"`
	StoreURI            string        `firestore:"storeUri,omitempty"`
	TargetField         string        `firestore:"targetField,omitempty"`
	Policy              string        `firestore:"policy,omitempty"`
	Status              string        `firestore:"status,omitempty"`
	ErrorDetails        string        `firestore:"errorDetails,omitempty"`
	Report              *UpdateReport `firestore:"report,omitempty"`
	WorkflowExecutionID string        `firestore:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time     `firestore:"createdAt,omitempty"`
}

// Run statuses.
const (
	RunStatusRunning = "RUNNING"
	RunStatusApplied = "APPLIED"
	RunStatusFailed  = "FAILED"
)
