package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/t1modo/NotiTron/internal/task"
	logx "github.com/t1modo/NotiTron/pkg/logx"
)

// Config configures the task store.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "memory": in-memory store, lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (task.Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
