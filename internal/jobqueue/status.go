// Package jobqueue is the shared job store: it claims idle jobs with per-row
// conditional updates, returns stale in-progress jobs to idle, and applies the
// terminal transitions. Every job kind lives in its own table with the same
// lifecycle columns (status, created_at, claimed_at, claimed_by, attempts,
// last_error, skip_reason, fail_reason, finished_at, updated_at).
package jobqueue

import (
	"errors"

	sq "github.com/Masterminds/squirrel"
)

type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusSkipped    Status = "SKIPPED"
	StatusFailed     Status = "FAILED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusIdle, StatusInProgress, StatusDone, StatusSkipped, StatusFailed}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusSkipped || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusInProgress, StatusDone, StatusSkipped, StatusFailed:
		return true
	}
	return false
}

// ErrNotInProgress is returned when a guarded transition matched no row: the
// job was reclaimed by another worker or already reached a terminal status.
var ErrNotInProgress = errors.New("job is not in progress")

// Kind describes one job table.
type Kind struct {
	Name  string
	Table string

	// Eligible narrows the idle-candidate query with kind-specific predicates.
	// Columns of the job table must be qualified with the table name.
	Eligible func(sq.SelectBuilder) sq.SelectBuilder
}

func (k Kind) column(name string) string {
	return k.Table + "." + name
}
