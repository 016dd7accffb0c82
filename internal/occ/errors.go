package occ

import (
	"fmt"

	"github.com/occkit/occkit/internal/settings"
)

// ConflictError reports that a record changed underneath the caller: the
// stored version no longer matches the version the caller loaded.
type ConflictError struct {
	RecordID string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record %s was modified: expected version %d, found %d",
		e.RecordID, e.Expected, e.Actual)
}

// Conflict converts the error into the shape conflict callbacks and
// handlers receive.
func (e *ConflictError) Conflict() settings.Conflict {
	return settings.Conflict{
		RecordID: e.RecordID,
		Expected: e.Expected,
		Actual:   e.Actual,
	}
}

// VersionError reports a record that failed the sanity check before any
// store access, usually a zero version from a caller that never loaded
// the record.
type VersionError struct {
	RecordID string
	Version  int64
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("record %s has invalid version %d: load the record before saving",
		e.RecordID, e.Version)
}

// TokenError reports a version token that failed verification or did not
// belong to the record it was presented for.
type TokenError struct {
	RecordID string
	Reason   string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("invalid version token for record %s: %s", e.RecordID, e.Reason)
}
