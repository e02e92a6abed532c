package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "embycord/pkg/logx"
)

// Store persists delivery records.
type Store interface {
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	// RecentDeliveries returns up to limit records, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
	// PruneBefore deletes records older than t and reports how many went.
	PruneBefore(ctx context.Context, t time.Time) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// fillDefaults assigns an id and timestamp when missing.
func fillDefaults(r *DeliveryRecord) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
}

const maxRecentLimit = 1000

func clampLimit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > maxRecentLimit {
		return maxRecentLimit
	}
	return n
}
