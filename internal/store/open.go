package store

import (
	"context"
	"fmt"
	"strings"
)

// Open returns the Store for the configured driver: bbolt, sqlite or memory.
func Open(ctx context.Context, driver, path string, cols Collections) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "bbolt", "bolt":
		return OpenBolt(path, cols)
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, path, cols)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
