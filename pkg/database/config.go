package database

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds SQLite connection settings.
type Config struct {
	Path            string        `json:"path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	BusyTimeout     time.Duration `json:"busy_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	WriteQueueSize  int           `json:"write_queue_size"`
}

// DefaultConfig returns settings suitable for a single-node deployment.
func DefaultConfig() *Config {
	return &Config{
		Path:            "./data/mobidoc.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		BusyTimeout:     5 * time.Second,
		WriteTimeout:    30 * time.Second,
		WriteQueueSize:  100,
	}
}

// Validate rejects settings the manager cannot run with.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("write queue size must be greater than 0")
	}
	return nil
}

// DSN renders the go-sqlite3 connection string.
// TECHNICAL DISCOVERY: Pragmas go in the DSN so every pooled connection gets
// them; a one-off PRAGMA statement only affects the connection it ran on
func (c *Config) DSN() string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", fmt.Sprintf("%d", c.BusyTimeout.Milliseconds()))
	q.Set("_txlock", "immediate")
	return c.Path + "?" + q.Encode()
}
