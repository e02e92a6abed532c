package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is one finished dispatch attempt.
type DeliveryRecord struct {
	ID          string    `json:"id"`
	At          time.Time `json:"at"`
	Path        string    `json:"path"` // media_added | direct
	ItemID      string    `json:"item_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Title       string    `json:"title,omitempty"`
	OK          bool      `json:"ok"`
	Kind        string    `json:"kind,omitempty"`
	StatusCode  int       `json:"status_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	TookMS      int64     `json:"took_ms"`
}
