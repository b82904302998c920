package store

import (
	"sort"

	"github.com/olimci/tenkai/pkg/store/config"
	"github.com/olimci/tenkai/pkg/store/history"
	"github.com/olimci/tenkai/pkg/store/lock"
)

type StatusSnapshot struct {
	Root           string
	Config         config.Config
	Locks          []lock.Lock
	HistoryEntries int
	Targets        []TargetStatus
}

// TargetStatus is the latest known outcome for one target.
type TargetStatus struct {
	Target     string
	Last       history.Entry
	LastLive   string // release of the last committed deploy
	Locked     bool
	Operations int
}

func (s Store) Status() (StatusSnapshot, error) {
	if !s.IsInstalled() {
		return StatusSnapshot{}, ErrNotInstalled
	}

	cfg, err := s.LoadConfig()
	if err != nil {
		return StatusSnapshot{}, err
	}
	locks, err := s.Locks()
	if err != nil {
		return StatusSnapshot{}, err
	}
	h, err := s.LoadHistory()
	if err != nil {
		return StatusSnapshot{}, err
	}

	byTarget := make(map[string]*TargetStatus)
	get := func(name string) *TargetStatus {
		ts, ok := byTarget[name]
		if !ok {
			ts = &TargetStatus{Target: name}
			byTarget[name] = ts
		}
		return ts
	}

	for _, e := range h.Entries {
		ts := get(e.Target)
		ts.Last = e
		ts.Operations++
		switch e.Status {
		case history.StatusCommitted:
			ts.LastLive = e.Release
		case history.StatusReverted:
			ts.LastLive = e.Previous
		}
	}
	for _, lck := range locks {
		get(lck.Target).Locked = true
	}

	targets := make([]TargetStatus, 0, len(byTarget))
	for _, ts := range byTarget {
		targets = append(targets, *ts)
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].Target < targets[j].Target
	})

	return StatusSnapshot{
		Root:           s.Root,
		Config:         cfg,
		Locks:          locks,
		HistoryEntries: len(h.Entries),
		Targets:        targets,
	}, nil
}
