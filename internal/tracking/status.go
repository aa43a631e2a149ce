// Package tracking is the run-tracking core: the field whitelists for the
// two tracking tables, the record repository with its create-once /
// update-many / error-if-missing contract, the metric validator and
// aggregator, and the three pipeline stage reporters.
package tracking

import (
	"fmt"
	"strings"
)

// Status is the closed set of tracking-record states. Strings coming off the
// store are accepted case-insensitively; anything else is rejected.
type Status string

const (
	StatusUnknown        Status = "Unknown"
	StatusRunning        Status = "Running"
	StatusCompleted      Status = "Completed"
	StatusFailed         Status = "Failed"
	StatusNoLeadsToScore Status = "No Leads To Score"
)

// ParseStatus maps a store string onto a known Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return StatusRunning, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "no leads to score":
		return StatusNoLeadsToScore, nil
	case "unknown", "":
		return StatusUnknown, nil
	default:
		return StatusUnknown, fmt.Errorf("tracking: unknown status %q", s)
	}
}

// Terminal reports whether the status ends a record's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoLeadsToScore:
		return true
	default:
		return false
	}
}
