package types

import "time"

// ResolvedAddress represents an external address reported by a remote service
type ResolvedAddress struct {
	Value  string `json:"value"`  // IPv4 dotted-quad
	Source string `json:"source"` // Service endpoint that produced it
}

// SavedIPPair represents the last known-good address pair
type SavedIPPair struct {
	External string `json:"external"`
	Local    string `json:"local"`
}

// Equal reports whether both addresses match
func (p *SavedIPPair) Equal(other *SavedIPPair) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.External == other.External && p.Local == other.Local
}

// CycleResult represents the outcome of one resolve-compare-notify cycle
type CycleResult struct {
	CycleID    string       `json:"cycle_id"`
	Machine    string       `json:"machine"`
	Previous   *SavedIPPair `json:"previous,omitempty"`
	Current    SavedIPPair  `json:"current"`
	Source     string       `json:"source,omitempty"`
	Attempts   int          `json:"attempts"`
	Changed    bool         `json:"changed"`
	Forced     bool         `json:"forced"`
	Notified   bool         `json:"notified"`
	DryRun     bool         `json:"dry_run"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Error      string       `json:"error,omitempty"`
}

// Duration returns how long the cycle took
func (r *CycleResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
