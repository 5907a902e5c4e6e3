package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "mobidoc/pkg/database"
	"mobidoc/pkg/interfaces"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

var _ interfaces.Store = (*Manager)(nil)

// Manager is the SQLite store. Reads run concurrently on the pool; every write
// is funnelled through one goroutine.
type Manager struct {
	db         *sql.DB
	config     *dbconfig.Config
	writes     chan writeOperation
	shutdown   chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	retryDelay time.Duration
	logger     zerolog.Logger
}

type writeOperation struct {
	ctx       context.Context
	operation func(ctx context.Context, db *sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and validates the schema.
func NewManager(ctx context.Context, config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:         db,
		config:     config,
		writes:     make(chan writeOperation, config.WriteQueueSize),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		retryDelay: time.Second,
		logger:     logger.With().Str("component", "sqlite").Str("path", config.Path).Logger(),
	}

	go m.writeLoop()
	return m, nil
}

// writeLoop serializes writes. A write failing with SQLITE_BUSY or
// SQLITE_LOCKED is retried once.
func (m *Manager) writeLoop() {
	defer close(m.done)

	for {
		select {
		case op := <-m.writes:
			err := op.operation(op.ctx, m.db)
			if isTransient(err) && op.ctx.Err() == nil {
				m.logger.Warn().Err(err).Dur("retry_in", m.retryDelay).Msg("database write failed, retrying")
				time.Sleep(m.retryDelay)
				err = op.operation(op.ctx, m.db)
			}
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				m.logger.Error().Err(err).Msg("database write failed")
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug().Msg("write loop shutting down")
			return
		}
	}
}

func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite queues a write and waits for its result.
func (m *Manager) executeWrite(ctx context.Context, operation func(ctx context.Context, db *sql.DB) error) error {
	select {
	case <-m.shutdown:
		return ErrManagerClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.WriteTimeout)
	defer cancel()

	op := writeOperation{ctx: ctx, operation: operation, result: make(chan error, 1)}
	select {
	case m.writes <- op:
	case <-ctx.Done():
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	// FUNCTIONAL DISCOVERY: Once queued, the writer owns the operation and
	// may still commit it. Reporting a timeout here would invite a retry that
	// duplicates the row, so wait for the real outcome; the operation's own
	// context bounds how long the writer spends on it
	select {
	case err := <-op.result:
		return err
	case <-m.done:
		return ErrManagerClosed
	}
}

// HealthCheck verifies the database answers queries.
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-m.shutdown:
		return ErrManagerClosed
	default:
	}

	var one int
	if err := m.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// DB exposes the pool for tests and tooling.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call more than once.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.shutdown)
		<-m.done
		err = m.db.Close()
	})
	return err
}
