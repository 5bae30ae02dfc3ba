package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is one webhook POST attempt.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Relay  string    `json:"relay"`
	Kind   string    `json:"kind"`
	Events int       `json:"events"`
	Bytes  int       `json:"bytes"`
	OK     bool      `json:"ok"`
	Status int       `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}
