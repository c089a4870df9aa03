package pipeline

import (
	"errors"

	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
)

// ErrInvalidTransition is returned for a status change the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[sqlite.Status][]sqlite.Status{
	sqlite.StatusUploaded:   {sqlite.StatusConverting, sqlite.StatusProcessing, sqlite.StatusFailed},
	sqlite.StatusConverting: {sqlite.StatusProcessing, sqlite.StatusFailed},
	sqlite.StatusProcessing: {sqlite.StatusReady, sqlite.StatusFailed},
	// Reprocess and requeue.
	sqlite.StatusReady:  {sqlite.StatusUploaded},
	sqlite.StatusFailed: {sqlite.StatusUploaded},
}

// CanTransition reports whether a scan may move from one status to another.
func CanTransition(from, to sqlite.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanRequeue reports whether a scan in status from may be put back to
// uploaded by the reconciler. Only scans a worker could own qualify.
func CanRequeue(from sqlite.Status) bool {
	return from.Active()
}
