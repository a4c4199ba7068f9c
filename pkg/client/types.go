package client

import "time"

// RunSummary is the outcome of one reconciliation pass.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`
	Total      int       `json:"total"`
	Protected  int       `json:"protected"`
	Inactive   int       `json:"inactive"`
	Suspended  int       `json:"suspended"`
	Deleted    int       `json:"deleted"`
	Failed     int       `json:"failed"`
	Recovered  int       `json:"recovered"`
	Pruned     int       `json:"pruned"`
	Tracked    int       `json:"tracked"`
	Error      string    `json:"error,omitempty"`
}

// Status is returned by GET /status.
type Status struct {
	Running bool        `json:"running"`
	NextRun *time.Time  `json:"next_run,omitempty"`
	LastRun *RunSummary `json:"last_run,omitempty"`
}

// TrackedServer is one persisted lifecycle record.
type TrackedServer struct {
	ID            string     `json:"id"`
	Phase         string     `json:"phase"`
	InactiveSince *time.Time `json:"inactive_since,omitempty"`
	SuspendedAt   *time.Time `json:"suspended_at,omitempty"`
	SuspendedBy   string     `json:"suspended_by,omitempty"`
}

// State is returned by GET /state.
type State struct {
	Inactive  int             `json:"inactive"`
	Suspended int             `json:"suspended"`
	Records   []TrackedServer `json:"records"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
