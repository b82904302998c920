package lock

import "time"

// Lock marks a target as being deployed from this machine.
type Lock struct {
	Target   string    `json:"target"`
	RunID    string    `json:"run_id"`
	Command  string    `json:"command"` // deploy|rollback|cleanup
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname"`
	Acquired time.Time `json:"acquired"`
}
