package types

import "time"

// IPChange represents a detected change of the external or local address
type IPChange struct {
	ID          string    `json:"id"`
	Machine     string    `json:"machine"`
	OldExternal string    `json:"old_external,omitempty"`
	OldLocal    string    `json:"old_local,omitempty"`
	NewExternal string    `json:"new_external"`
	NewLocal    string    `json:"new_local"`
	Source      string    `json:"source"`
	Forced      bool      `json:"forced"`
	DetectedAt  time.Time `json:"detected_at"`
}

// ExternalChanged reports whether the external address differs
func (c *IPChange) ExternalChanged() bool {
	return c.OldExternal != c.NewExternal
}

// LocalChanged reports whether the local address differs
func (c *IPChange) LocalChanged() bool {
	return c.OldLocal != c.NewLocal
}

// FirstSeen reports whether there was no previous observation
func (c *IPChange) FirstSeen() bool {
	return c.OldExternal == "" && c.OldLocal == ""
}

// IPChangeFilter represents filtering options for change history queries
type IPChangeFilter struct {
	Machine   string    `json:"machine,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Limit     int       `json:"limit,omitempty"`
}
