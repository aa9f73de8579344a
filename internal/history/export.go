package history

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// ExportCSV writes the complete trade history to a CSV file.
func ExportCSV(store Store, path string) (int, error) {
	records, err := store.All()
	if err != nil {
		return 0, fmt.Errorf("loading history: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&records, f); err != nil {
		return 0, fmt.Errorf("writing csv: %w", err)
	}
	return len(records), nil
}

// Open returns the configured history backend. A data directory that
// does not exist yet is created; a fresh deployment starts with an
// empty history.
func Open(backend, dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	switch backend {
	case "sqlite":
		return NewSQLiteStore(filepath.Join(dataDir, "fill_history.db"))
	default:
		return NewJSONStore(dataDir)
	}
}
