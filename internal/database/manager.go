// Package database is the SQLite message store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	// Registers the "sqlite3" driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"roomcast/internal/logging"
	"roomcast/internal/metrics"
	dbconfig "roomcast/pkg/database"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Manager implements interfaces.MessageStore on SQLite.
// ARCHITECTURAL DISCOVERY: reads go straight to the pool; every write is
// funneled through one goroutine so SQLite never sees competing writers.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	logger       zerolog.Logger
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	if dir := filepath.Dir(config.DatabasePath); config.DatabasePath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	for _, pragma := range dbconfig.Pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		logger:       logging.WithComponent("database"),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// Migrate applies pending schema migrations and validates the result.
func (m *Manager) Migrate() error {
	applied, err := dbconfig.NewMigrationManager(m.db).ApplyMigrations()
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		m.logger.Info().Strs("versions", applied).Msg("Database migrations applied")
	}
	return dbconfig.NewSchemaValidator(m.db).Validate()
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)
		case <-m.shutdown:
			m.logger.Debug().Msg("Write loop shutting down")
			return
		}
	}
}

// runWrite executes op, retrying once after RetryDelay unless the caller
// has already given up.
func (m *Manager) runWrite(op writeOperation) error {
	err := op.operation(op.ctx, m.db)
	if err == nil || op.ctx.Err() != nil {
		return err
	}

	m.logger.Warn().Err(err).Dur("retry_in", m.config.RetryDelay).Msg("Database write failed, retrying")
	metrics.DBWriteRetries.Inc()

	select {
	case <-time.After(m.config.RetryDelay):
	case <-op.ctx.Done():
		return op.ctx.Err()
	case <-m.shutdown:
		return err
	}

	if err = op.operation(op.ctx, m.db); err != nil {
		m.logger.Error().Err(err).Msg("Database write failed after retry")
	}
	return err
}

// executeWrite queues operation and waits for its result.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreUnavailable
	}
	m.mu.RUnlock()

	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return errors.New("write operation timeout")
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreUnavailable
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return interfaces.ErrStoreUnavailable
	}
}

// AppendMessage stores message and returns the assigned ID.
func (m *Manager) AppendMessage(ctx context.Context, message *types.Message) (int64, error) {
	createdAt := message.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO messages (room_id, user_id, content, message_type, file_name, file_size, file_url, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			message.RoomID,
			message.UserID,
			message.Content,
			message.MessageType,
			message.FileName,
			message.FileSize,
			message.FileURL,
			createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// LatestMessages returns the newest limit messages of a room, oldest first.
func (m *Manager) LatestMessages(ctx context.Context, roomID int64, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		return []*types.Message{}, nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, content, message_type, file_name, file_size, file_url, created_at
		FROM (
			SELECT * FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest messages: %w", err)
	}
	return scanMessages(rows, limit)
}

// MessagesAfter returns up to limit messages of a room with an id greater
// than afterID, oldest first. Pollers pass the last id they have seen.
func (m *Manager) MessagesAfter(ctx context.Context, roomID, afterID int64, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		return []*types.Message{}, nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, content, message_type, file_name, file_size, file_url, created_at
		FROM messages
		WHERE room_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`, roomID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages after %d: %w", afterID, err)
	}
	return scanMessages(rows, limit)
}

// scanMessages reads message rows and closes them.
func scanMessages(rows *sql.Rows, capacity int) ([]*types.Message, error) {
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0, capacity)
	for rows.Next() {
		var (
			msg      types.Message
			fileName sql.NullString
			fileSize sql.NullInt64
			fileURL  sql.NullString
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.UserID,
			&msg.Content,
			&msg.MessageType,
			&fileName,
			&fileSize,
			&fileURL,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if fileName.Valid {
			msg.FileName = &fileName.String
		}
		if fileSize.Valid {
			msg.FileSize = &fileSize.Int64
		}
		if fileURL.Valid {
			msg.FileURL = &fileURL.String
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// HealthCheck verifies connectivity and that the messages table is readable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM (SELECT 1 FROM messages LIMIT 1)").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for migrations and tests.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
