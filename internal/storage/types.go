package storage

import (
	"errors"
	"time"

	"github.com/spf13/afero"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxEntries bounds the sqlite journal (default 100000, negative keeps everything).
	MaxEntries int
	// Fs backs the file driver (default: the OS filesystem).
	Fs afero.Fs
}

// Entry is one journal record. Keep it compact and schema-stable.
type Entry struct {
	At      time.Time `json:"at"`
	RunID   string    `json:"run_id"`
	Type    string    `json:"type"`
	Subject string    `json:"subject,omitempty"`
	Detail  string    `json:"detail,omitempty"` // JSON encoded event payload
	Error   string    `json:"error,omitempty"`
}
