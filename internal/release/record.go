package release

import "time"

// Status is the lifecycle state of a release record
type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
	StatusHistorical Status = "historical"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusFailed, StatusRolledBack, StatusHistorical:
		return true
	}
	return false
}

// Published reports whether a release with this status was ever switched live
func (s Status) Published() bool {
	return s == StatusActive || s == StatusHistorical || s == StatusRolledBack
}

// Record is a single release of an application.
// Records are appended to the history when a run starts and only their
// status and completion fields change afterwards.
type Record struct {
	ID           int64      `json:"id"`
	Application  string     `json:"application"`
	ReleaseID    string     `json:"release_id"`
	ReleasePath  string     `json:"release_path"`
	Branch       string     `json:"branch"`
	Revision     string     `json:"revision,omitempty"`
	Status       Status     `json:"status"`
	RunID        string     `json:"run_id"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// Duration returns how long the release took, or zero while it is running
func (r *Record) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
