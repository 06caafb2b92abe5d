package services

import "errors"

var (
	// ErrSourceNotFound means the gradesheet PDF could not be located or
	// opened. The run stops before the record store is read.
	ErrSourceNotFound = errors.New("source document not found")
	// ErrStoreNotFound means the record store could not be located.
	ErrStoreNotFound = errors.New("record store not found")
	// ErrNoMarks means the gradesheet produced no accepted rows, which
	// usually points at a wrong column layout. Nothing is written.
	ErrNoMarks = errors.New("no marks extracted from source document")
	// ErrStoreChanged means the remote store was modified between read and
	// write. Nothing is written.
	ErrStoreChanged = errors.New("record store changed during update")
	// ErrInvalidConfig reports an unusable engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")
)
