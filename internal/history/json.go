package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	apperrors "grid-trader/internal/errors"
	"grid-trader/internal/models"
)

// JSONStore implements Store backed by a single JSON document, rewritten in
// full on every new trade. Writes go to a temp file which then replaces the
// document, so readers never observe a partial write.
type JSONStore struct {
	path    string
	records []models.TradeRecord
	mu      sync.Mutex
}

// NewJSONStore opens (or initializes) the JSON history under dataDir.
// A missing file means an empty history, not an error.
func NewJSONStore(dataDir string) (*JSONStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &JSONStore{path: filepath.Join(dataDir, HistoryFileName)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("parsing history file: %w", err)
	}
	return s, nil
}

// Append adds the record and rewrites the document. On a write failure the
// record stays in memory, so the next successful Append persists it too.
func (s *JSONStore) Append(record models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, record)
	return s.flushLocked()
}

// flushLocked rewrites the whole document atomically. Callers hold s.mu.
func (s *JSONStore) flushLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return apperrors.NewPersistenceError(s.path, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return apperrors.NewPersistenceError(s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return apperrors.NewPersistenceError(s.path, err)
	}
	return nil
}

// All returns a copy of the complete ordered history.
func (s *JSONStore) All() ([]models.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.TradeRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Recent returns the last n records in chronological order.
func (s *JSONStore) Recent(n int) ([]models.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > len(s.records) {
		n = len(s.records)
	}
	out := make([]models.TradeRecord, n)
	copy(out, s.records[len(s.records)-n:])
	return out, nil
}

// RealizedPnl returns the sum of profit over the whole history.
func (s *JSONStore) RealizedPnl() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, r := range s.records {
		total += r.Profit
	}
	return total, nil
}

// Close is a no-op for the JSON store.
func (s *JSONStore) Close() error {
	return nil
}
