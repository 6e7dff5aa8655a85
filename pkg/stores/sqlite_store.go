package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openfroyo/biosctl/pkg/engine"
	"github.com/openfroyo/biosctl/pkg/progress"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg, now: time.Now}, nil
}

// Init opens the database connection and enables WAL mode for file databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path
	if dsn != MemoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate", s.cfg.Path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// The migrate instance is not closed: that would close s.db.
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// UpsertOperation writes the current snapshot of an operation.
func (s *SQLiteStore) UpsertOperation(ctx context.Context, op progress.Operation) error {
	query := `
		INSERT INTO operations (
			id, kind, target, status, percentage, total_subtasks, errors, warnings,
			message, created_at, started_at, ended_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			percentage = excluded.percentage,
			total_subtasks = excluded.total_subtasks,
			errors = excluded.errors,
			warnings = excluded.warnings,
			message = excluded.message,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		op.ID,
		op.Kind,
		op.Target,
		string(op.Status),
		op.Percentage,
		op.TotalSubtasks,
		op.Errors,
		op.Warnings,
		op.Message,
		op.CreatedAt.UTC(),
		nullTime(op.StartedAt),
		nullTime(op.EndedAt),
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert operation: %w", err)
	}

	return nil
}

const operationColumns = `id, kind, target, status, percentage, total_subtasks, errors, warnings,
	message, created_at, started_at, ended_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*OperationRecord, error) {
	rec := &OperationRecord{}
	var status string
	var started, ended sql.NullTime
	err := row.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.Target,
		&status,
		&rec.Percentage,
		&rec.TotalSubtasks,
		&rec.Errors,
		&rec.Warnings,
		&rec.Message,
		&rec.CreatedAt,
		&started,
		&ended,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = progress.Status(status)
	if started.Valid {
		t := started.Time
		rec.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		rec.EndedAt = &t
	}
	return rec, nil
}

// GetOperation retrieves an operation by ID
func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*OperationRecord, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE id = ?`

	rec, err := scanOperation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}

	return rec, nil
}

// ListOperations lists operations newest first.
func (s *SQLiteStore) ListOperations(ctx context.Context, filter OperationFilter) ([]*OperationRecord, error) {
	var where []string
	var args []any
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Target != "" {
		where = append(where, "target = ?")
		args = append(args, filter.Target)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + operationColumns + ` FROM operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	ops := []*OperationRecord{}
	for rows.Next() {
		rec, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}

// DeleteOperation removes an operation and everything recorded for it.
func (s *SQLiteStore) DeleteOperation(ctx context.Context, id string) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}

	for _, table := range []string{"events", "setting_changes", "firmware_results"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE operation_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// AppendEvent stores a progress event. Duplicate event IDs are ignored.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev progress.Event) error {
	query := `
		INSERT OR IGNORE INTO events (id, operation_id, type, message, subtask, percentage, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		ev.OperationID,
		string(ev.Type),
		ev.Message,
		ev.Subtask,
		ev.Percentage,
		ev.Error,
		ev.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents returns the events of an operation in insertion order.
func (s *SQLiteStore) ListEvents(ctx context.Context, operationID string) ([]*EventRecord, error) {
	query := `
		SELECT id, operation_id, type, message, subtask, percentage, error, timestamp
		FROM events
		WHERE operation_id = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		ev := &EventRecord{}
		var evType string
		if err := rows.Scan(
			&ev.ID,
			&ev.OperationID,
			&evType,
			&ev.Message,
			&ev.Subtask,
			&ev.Percentage,
			&ev.Error,
			&ev.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = progress.EventType(evType)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// SaveReconcileResult records every setting write attempted by a
// reconciliation. Settings recovered through the per-setting fallback are
// recorded with their fallback channel and outcome.
func (s *SQLiteStore) SaveReconcileResult(ctx context.Context, res *engine.ReconcileResult) error {
	if res == nil {
		return fmt.Errorf("result is nil")
	}

	oldValues := make(map[string]interface{})
	if res.Reconciliation != nil {
		for _, c := range res.Reconciliation.Diff {
			oldValues[c.Name] = c.OldValue
		}
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO setting_changes (
			operation_id, target, name, old_value, new_value, channel, batch_index, status, error, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	insert := func(name string, value interface{}, ch engine.Channel, batch int, status engine.BatchStatus, errMsg string) error {
		oldJSON, err := encodeValue(oldValues[name])
		if err != nil {
			return err
		}
		newJSON, err := encodeValue(value)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, res.OperationID, res.Target, name, oldJSON, newJSON,
			string(ch), batch, string(status), errMsg, now)
		if err != nil {
			return fmt.Errorf("failed to record setting %s: %w", name, err)
		}
		return nil
	}

	for _, batch := range res.Batches {
		if len(batch.Recovery) > 0 {
			for _, r := range batch.Recovery {
				status := engine.BatchStatusRecovered
				if !r.Success {
					status = engine.BatchStatusFailed
				}
				if err := insert(r.Name, r.Value, r.Channel, batch.Index, status, r.Error); err != nil {
					return err
				}
			}
			continue
		}
		for _, name := range batch.Settings {
			if err := insert(name, desiredValue(res, name), batch.Channel, batch.Index, batch.Status, batch.Error); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func desiredValue(res *engine.ReconcileResult, name string) interface{} {
	if res.Reconciliation == nil {
		return nil
	}
	for _, c := range res.Reconciliation.Diff {
		if c.Name == name {
			return c.NewValue
		}
	}
	return nil
}

// SaveFirmwareReport records the per-item outcomes of a firmware run.
func (s *SQLiteStore) SaveFirmwareReport(ctx context.Context, rep *engine.FirmwareReport) error {
	if rep == nil {
		return fmt.Errorf("report is nil")
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	for _, r := range rep.Results {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO firmware_results (
				operation_id, target, component, name, priority, success,
				old_version, new_version, duration_ms, error, recorded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rep.OperationID,
			rep.Target,
			string(r.Component),
			r.Name,
			string(r.Priority),
			r.Success,
			r.OldVersion,
			r.NewVersion,
			r.ExecutionTime.Milliseconds(),
			r.Error,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to record firmware result: %w", err)
		}
	}

	return tx.Commit()
}

// ListSettingChanges returns the recorded setting writes of an operation.
func (s *SQLiteStore) ListSettingChanges(ctx context.Context, operationID string) ([]*SettingChangeRecord, error) {
	query := `
		SELECT id, operation_id, target, name, old_value, new_value, channel, batch_index, status, error, recorded_at
		FROM setting_changes
		WHERE operation_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list setting changes: %w", err)
	}
	defer rows.Close()

	changes := []*SettingChangeRecord{}
	for rows.Next() {
		c := &SettingChangeRecord{}
		var oldValue, newValue sql.NullString
		var ch, status string
		if err := rows.Scan(
			&c.ID,
			&c.OperationID,
			&c.Target,
			&c.Name,
			&oldValue,
			&newValue,
			&ch,
			&c.BatchIndex,
			&status,
			&c.Error,
			&c.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan setting change: %w", err)
		}
		c.OldValue = oldValue.String
		c.NewValue = newValue.String
		c.Channel = engine.Channel(ch)
		c.Status = engine.BatchStatus(status)
		changes = append(changes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating setting changes: %w", err)
	}

	return changes, nil
}

// ListFirmwareResults returns the recorded firmware outcomes of an operation.
func (s *SQLiteStore) ListFirmwareResults(ctx context.Context, operationID string) ([]*FirmwareResultRecord, error) {
	query := `
		SELECT id, operation_id, target, component, name, priority, success,
			   old_version, new_version, duration_ms, error, recorded_at
		FROM firmware_results
		WHERE operation_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list firmware results: %w", err)
	}
	defer rows.Close()

	results := []*FirmwareResultRecord{}
	for rows.Next() {
		r := &FirmwareResultRecord{}
		var component, priority string
		var durationMS int64
		if err := rows.Scan(
			&r.ID,
			&r.OperationID,
			&r.Target,
			&component,
			&r.Name,
			&priority,
			&r.Success,
			&r.OldVersion,
			&r.NewVersion,
			&durationMS,
			&r.Error,
			&r.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan firmware result: %w", err)
		}
		r.Component = engine.ComponentType(component)
		r.Priority = engine.Priority(priority)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating firmware results: %w", err)
	}

	return results, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func encodeValue(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode value: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
