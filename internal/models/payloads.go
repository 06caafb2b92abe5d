package models

// These structs define the JSON payloads exchanged with the marks-function
// HTTP entry point.

// UpdateMarksRequest is the input for the HandleUpdateMarks function.
// Empty fields fall back to the function's environment configuration.
type UpdateMarksRequest struct {
	SourceURI   string `json:"sourceUri"`
	StoreURI    string `json:"storeUri"`
	OutputURI   string `json:"outputUri,omitempty"`
	Subject     string `json:"subject"`
	Preset      string `json:"preset,omitempty"`
	KeyColumn   *int   `json:"keyColumn,omitempty"`
	MarkColumn  *int   `json:"markColumn,omitempty"`
	MatchMode   string `json:"matchMode,omitempty"`
	Policy      string `json:"policy,omitempty"`
	Fallback    string `json:"fallback,omitempty"`
	DryRun      bool   `json:"dryRun,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

// UpdateMarksResponse is the output of the HandleUpdateMarks function.
type UpdateMarksResponse struct {
	Status string        `json:"status"`
	Report *UpdateReport `json:"report,omitempty"`
}

// GCSEvent is the data payload of a Cloud Storage object event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}
