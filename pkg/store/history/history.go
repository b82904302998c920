package history

import "time"

type Status string

const (
	StatusCommitted  Status = "committed"   // release went live
	StatusRolledBack Status = "rolled_back" // release failed and was undone
	StatusIncomplete Status = "incomplete"  // release failed and undo did not finish
	StatusReverted   Status = "reverted"    // current was moved back to an older release
	StatusCleaned    Status = "cleaned"     // old releases were pruned
)

// Entry records one operation against a target.
type Entry struct {
	ID       string    `json:"id"`
	Target   string    `json:"target"`
	Host     string    `json:"host"`
	Project  string    `json:"project,omitempty"`
	Status   Status    `json:"status"`
	Release  string    `json:"release,omitempty"`
	Previous string    `json:"previous,omitempty"`
	Removed  []string  `json:"removed,omitempty"`
	Steps    int       `json:"steps,omitempty"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

func (e Entry) Duration() time.Duration {
	if e.Finished.Before(e.Started) {
		return 0
	}
	return e.Finished.Sub(e.Started)
}

// History is the persisted list of entries, oldest first.
type History struct {
	Entries []Entry `json:"entries"`
}

// ForTarget returns the entries for target, oldest first. An empty target
// returns every entry.
func (h History) ForTarget(target string) []Entry {
	if target == "" {
		return append([]Entry(nil), h.Entries...)
	}
	var out []Entry
	for _, e := range h.Entries {
		if e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

// Trim drops the oldest entries beyond limit. A limit below one keeps
// everything.
func (h *History) Trim(limit int) int {
	if limit < 1 || len(h.Entries) <= limit {
		return 0
	}
	drop := len(h.Entries) - limit
	h.Entries = append([]Entry(nil), h.Entries[drop:]...)
	return drop
}
