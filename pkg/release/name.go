package release

import (
	"time"
)

// NameLayout formats release names. Names sort lexicographically in
// creation order.
const NameLayout = "2006-01-02.150405.000000"

// nextName returns a release name strictly greater than any name this
// Release produced before, even when the clock stalls or steps back.
func (r *Release) nextName() string {
	t := r.now().UTC().Truncate(time.Microsecond)
	if !t.After(r.lastName) {
		t = r.lastName.Add(time.Microsecond)
	}
	r.lastName = t
	return t.Format(NameLayout)
}

// ParseName reports the creation time encoded in a release name.
func ParseName(name string) (time.Time, bool) {
	t, err := time.Parse(NameLayout, name)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
