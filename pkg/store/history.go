package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/olimci/tenkai/pkg/store/history"
)

func (s Store) LoadHistory() (history.History, error) {
	var h history.History
	if err := decodeJSONFile(s.HistoryPath(), &h); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return history.History{}, nil
		}
		return history.History{}, fmt.Errorf("decode %s: %w", s.HistoryPath(), err)
	}
	return h, nil
}

// AppendHistory records entry and trims the file to limit entries.
func (s Store) AppendHistory(entry history.Entry, limit int) error {
	h, err := s.LoadHistory()
	if err != nil {
		return err
	}

	h.Entries = append(h.Entries, entry)
	h.Trim(limit)
	return writeJSON(s.HistoryPath(), h)
}

// LastCommitted returns the most recent committed entry for target.
func (s Store) LastCommitted(target string) (history.Entry, bool, error) {
	h, err := s.LoadHistory()
	if err != nil {
		return history.Entry{}, false, err
	}

	entries := h.ForTarget(target)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status == history.StatusCommitted {
			return entries[i], true, nil
		}
	}
	return history.Entry{}, false, nil
}
