package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/olimci/tenkai/pkg/store/lock"
)

var ErrLocked = errors.New("target is locked")

// LockedError names who holds a target's lock.
type LockedError struct {
	Holder lock.Lock
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: %s by pid %d on %s since %s (run %s)",
		ErrLocked, e.Holder.Target, e.Holder.PID, e.Holder.Hostname,
		e.Holder.Acquired.Format(time.RFC3339), e.Holder.RunID)
}

func (e *LockedError) Unwrap() error {
	return ErrLocked
}

func (s Store) LockPath(target string) (string, error) {
	name, err := lockFileName(target)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.LocksPath(), name), nil
}

// AcquireLock takes the deploy lock for lck.Target. The returned func
// releases it.
func (s Store) AcquireLock(lck lock.Lock) (func() error, error) {
	path, err := s.LockPath(lck.Target)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.LocksPath(), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", s.LocksPath(), err)
	}

	if lck.PID == 0 {
		lck.PID = os.Getpid()
	}
	if lck.Hostname == "" {
		lck.Hostname, _ = os.Hostname()
	}
	if lck.Acquired.IsZero() {
		lck.Acquired = time.Now().UTC()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			holder, readErr := s.ReadLock(lck.Target)
			if readErr != nil {
				return nil, fmt.Errorf("%w: %s", ErrLocked, lck.Target)
			}
			return nil, &LockedError{Holder: holder}
		}
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	encErr := json.NewEncoder(f).Encode(lck)
	closeErr := f.Close()
	if encErr != nil || closeErr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write %s: %w", path, errors.Join(encErr, closeErr))
	}

	release := func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("release lock %s: %w", path, err)
		}
		return nil
	}
	return release, nil
}

// ReadLock returns the lock held on target, or os.ErrNotExist.
func (s Store) ReadLock(target string) (lock.Lock, error) {
	path, err := s.LockPath(target)
	if err != nil {
		return lock.Lock{}, err
	}

	var lck lock.Lock
	if err := decodeJSONFile(path, &lck); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lock.Lock{}, err
		}
		return lock.Lock{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return lck, nil
}

// ForceUnlock removes the lock on target regardless of who holds it.
func (s Store) ForceUnlock(target string) (lock.Lock, error) {
	path, err := s.LockPath(target)
	if err != nil {
		return lock.Lock{}, err
	}

	holder, err := s.ReadLock(target)
	if errors.Is(err, os.ErrNotExist) {
		return lock.Lock{}, fmt.Errorf("%s is not locked", target)
	}
	if err != nil {
		// unreadable lock files are removed too
		holder = lock.Lock{Target: target}
	}

	if err := os.Remove(path); err != nil {
		return lock.Lock{}, fmt.Errorf("remove %s: %w", path, err)
	}
	return holder, nil
}

// Locks lists the held locks, sorted by target.
func (s Store) Locks() ([]lock.Lock, error) {
	entries, err := os.ReadDir(s.LocksPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.LocksPath(), err)
	}

	var locks []lock.Lock
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		var lck lock.Lock
		path := filepath.Join(s.LocksPath(), entry.Name())
		if err := decodeJSONFile(path, &lck); err != nil {
			lck = lock.Lock{Target: strings.TrimSuffix(entry.Name(), ".lock")}
		}
		locks = append(locks, lck)
	}

	sort.Slice(locks, func(i, j int) bool {
		return locks[i].Target < locks[j].Target
	})
	return locks, nil
}
