package store

import (
	"errors"
	"os"
	"syscall"

	"github.com/olimci/tenkai/pkg/store/lock"
)

type TidyResult struct {
	RemovedLocks   []lock.Lock
	TrimmedHistory int
}

// Tidy removes locks left behind by dead processes on this machine and
// trims history to the configured limit.
func (s Store) Tidy() (TidyResult, error) {
	if !s.IsInstalled() {
		return TidyResult{}, ErrNotInstalled
	}

	cfg, err := s.LoadConfig()
	if err != nil {
		return TidyResult{}, err
	}

	var result TidyResult

	locks, err := s.Locks()
	if err != nil {
		return TidyResult{}, err
	}
	hostname, _ := os.Hostname()
	for _, lck := range locks {
		if !isStale(lck, hostname) {
			continue
		}
		if _, err := s.ForceUnlock(lck.Target); err != nil {
			return result, err
		}
		result.RemovedLocks = append(result.RemovedLocks, lck)
	}

	h, err := s.LoadHistory()
	if err != nil {
		return result, err
	}
	if dropped := h.Trim(cfg.Options.HistoryLimit); dropped > 0 {
		if err := writeJSON(s.HistoryPath(), h); err != nil {
			return result, err
		}
		result.TrimmedHistory = dropped
	}

	return result, nil
}

// isStale reports whether lck was taken on this host by a process that no
// longer runs. Locks from other hosts are never considered stale.
func isStale(lck lock.Lock, hostname string) bool {
	if lck.PID <= 0 || lck.Hostname == "" || lck.Hostname != hostname {
		return false
	}
	return !processAlive(lck.PID)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
