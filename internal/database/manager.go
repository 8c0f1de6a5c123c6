// Package database keeps the connection audit log in SQLite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classpulse/internal/logging"
	dbconfig "classpulse/pkg/database"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Manager implements interfaces.ConnectionLog
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
	retryDelay   time.Duration
	logger       zerolog.Logger
}

// writeOperation is one queued write. result is nil for fire-and-forget writes.
type writeOperation struct {
	name      string
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies embedded migrations, validates the
// resulting schema and starts the writer
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// A database whose schema drifted from the migrations is refused here
	// rather than failing on the first audit write
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, config.QueueSize),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
		logger:       logging.WithComponent("database"),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine, in the
// order they were queued
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			m.run(op)

		case <-m.shutdown:
			// Drain what was queued before Close
			for {
				select {
				case op := <-m.writeChannel:
					m.run(op)
				default:
					m.logger.Debug().Msg("database write loop shutting down")
					return
				}
			}
		}
	}
}

// run executes op, retrying once after retryDelay
func (m *Manager) run(op writeOperation) {
	err := op.operation(m.db)
	if err != nil {
		m.logger.Warn().Err(err).Str("op", op.name).Dur("retry_in", m.retryDelay).Msg("database write failed, retrying")
		time.Sleep(m.retryDelay)
		if err = op.operation(m.db); err != nil {
			m.logger.Error().Err(err).Str("op", op.name).Msg("database write failed after retry")
		}
	}
	if op.result != nil {
		op.result <- err
	}
}

// enqueue queues a write without waiting for it to run.
// FUNCTIONAL DISCOVERY: The socket path must never stall on disk, so a full
// queue drops the write and reports ErrLogFull.
func (m *Manager) enqueue(name string, operation func(*sql.DB) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return interfaces.ErrLogClosed
	}

	select {
	case m.writeChannel <- writeOperation{name: name, operation: operation}:
		return nil
	default:
		return interfaces.ErrLogFull
	}
}

// executeWrite queues a write and waits for its result
func (m *Manager) executeWrite(ctx context.Context, name string, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrLogClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{name: name, operation: operation, result: result}:
	case <-timer.C:
		return fmt.Errorf("write operation timeout")
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrLogClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordConnect queues the insert for a newly registered socket
func (m *Manager) RecordConnect(ctx context.Context, record *interfaces.ConnectionRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("connection record requires an id")
	}
	rec := *record

	return m.enqueue("record_connect", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO connection_log (id, user_id, scope_type, scope_id, connected_at)
			VALUES (?, ?, ?, ?, ?)
		`, rec.ID, rec.UserID, string(rec.ScopeType), rec.ScopeID, rec.ConnectedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert connection: %w", err)
		}
		return nil
	})
}

// RecordDisconnect queues the close of a recorded socket. It runs after the
// matching insert because the writer is FIFO.
func (m *Manager) RecordDisconnect(ctx context.Context, id string, at time.Time, reason string) error {
	return m.enqueue("record_disconnect", func(db *sql.DB) error {
		_, err := db.Exec(`
			UPDATE connection_log
			SET disconnected_at = ?, close_reason = ?
			WHERE id = ? AND disconnected_at IS NULL
		`, at.UTC(), reason, id)
		if err != nil {
			return fmt.Errorf("failed to update connection: %w", err)
		}
		return nil
	})
}

// Flush waits until every write queued before the call has run
func (m *Manager) Flush(ctx context.Context) error {
	return m.executeWrite(ctx, "flush", func(*sql.DB) error { return nil })
}

// ListConnections reads audit rows newest first
// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
func (m *Manager) ListConnections(ctx context.Context, filter interfaces.ConnectionFilter) ([]*interfaces.ConnectionRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ScopeType != "" {
		where = append(where, "scope_type = ?")
		args = append(args, string(filter.ScopeType))
	}
	if filter.ScopeID != "" {
		where = append(where, "scope_id = ?")
		args = append(args, filter.ScopeID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, user_id, scope_type, scope_id, connected_at, disconnected_at, close_reason FROM connection_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY connected_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*interfaces.ConnectionRecord, 0)
	for rows.Next() {
		var (
			rec            interfaces.ConnectionRecord
			scopeType      string
			disconnectedAt sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &scopeType, &rec.ScopeID, &rec.ConnectedAt, &disconnectedAt, &rec.CloseReason); err != nil {
			return nil, fmt.Errorf("failed to scan connection row: %w", err)
		}
		rec.ScopeType = types.ScopeType(scopeType)
		// FUNCTIONAL DISCOVERY: Handle nullable disconnected_at for live sockets
		if disconnectedAt.Valid {
			t := disconnectedAt.Time
			rec.DisconnectedAt = &t
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection rows: %w", err)
	}

	return records, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM connection_log LIMIT 1").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains queued writes and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
