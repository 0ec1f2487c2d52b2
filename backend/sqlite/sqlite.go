package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/deciderhq/go-decider/backend"
	"github.com/deciderhq/go-decider/backend/metrics"
	"github.com/deciderhq/go-decider/core"
	"github.com/deciderhq/go-decider/internal/metrickeys"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// NewInMemoryBackend creates a new sqlite backend backed by an in-memory
// database. Intended for tests.
func NewInMemoryBackend(opts ...backend.BackendOption) backend.Backend {
	b := newSqliteBackend("file::memory:", opts...)

	b.db.SetMaxOpenConns(1)

	return b
}

// NewSqliteBackend creates a new sqlite backend backed by the database file
// at the given path, creating the file if it does not exist.
func NewSqliteBackend(path string, opts ...backend.BackendOption) backend.Backend {
	// _txlock=immediate takes the write lock up front so that two appenders
	// cannot both read the same max position before inserting.
	return newSqliteBackend(fmt.Sprintf("file:%v?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path), opts...)
}

func newSqliteBackend(dsn string, opts ...backend.BackendOption) *sqliteBackend {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	if _, err := db.Exec(schema); err != nil {
		panic(fmt.Errorf("initializing database: %w", err))
	}

	return &sqliteBackend{
		db:      db,
		clock:   clock.New(),
		options: backend.ApplyOptions(opts...),
	}
}

type sqliteBackend struct {
	db      *sql.DB
	clock   clock.Clock
	options *backend.Options
}

var _ backend.Backend = (*sqliteBackend)(nil)

func (sb *sqliteBackend) Append(ctx context.Context, workflowID string, messages []*core.Message) (int64, error) {
	if workflowID == "" {
		return 0, fmt.Errorf("workflow id must not be empty")
	}

	if len(messages) == 0 {
		return 0, fmt.Errorf("no messages to append")
	}

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var lastPosition int64
	if err := tx.QueryRowContext(
		ctx,
		"SELECT COALESCE(MAX(`position`), 0) FROM `messages` WHERE `workflow_id` = ?",
		workflowID,
	).Scan(&lastPosition); err != nil {
		return 0, fmt.Errorf("reading last position: %w", err)
	}

	lastPosition, err = insertMessages(ctx, tx, workflowID, lastPosition, messages, sb.clock)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("appending messages: %w", err)
	}

	sb.options.Metrics.Counter(metrickeys.MessagesAppended, metrics.Tags{metrickeys.WorkflowID: workflowID}, int64(len(messages)))

	return lastPosition, nil
}

func (sb *sqliteBackend) ReadStream(ctx context.Context, workflowID string, fromPosition int64) ([]*core.Message, error) {
	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT `id`, `workflow_id`, `position`, `kind`, `direction`, `name`, `payload`, `timestamp`, `processed` FROM `messages` WHERE `workflow_id` = ? AND `position` >= ? ORDER BY `position`",
		workflowID,
		fromPosition,
	)
	if err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (sb *sqliteBackend) GetPendingCommands(ctx context.Context, workflowID string) ([]*core.Message, error) {
	query := "SELECT `id`, `workflow_id`, `position`, `kind`, `direction`, `name`, `payload`, `timestamp`, `processed` FROM `messages` WHERE `kind` = ? AND `direction` = ? AND `processed` = FALSE"
	args := []any{core.MessageKind_Command, core.Direction_Output}

	if workflowID != "" {
		query += " AND `workflow_id` = ?"
		args = append(args, workflowID)
	}

	rows, err := sb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending commands: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (sb *sqliteBackend) MarkCommandProcessed(ctx context.Context, workflowID string, position int64) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(
		ctx,
		"SELECT EXISTS(SELECT 1 FROM `messages` WHERE `workflow_id` = ?)",
		workflowID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking stream: %w", err)
	}

	if !exists {
		return fmt.Errorf("marking command %s/%d: %w", workflowID, position, backend.ErrStreamNotFound)
	}

	var kind core.MessageKind
	var direction core.Direction
	var processed sql.NullBool
	err = tx.QueryRowContext(
		ctx,
		"SELECT `kind`, `direction`, `processed` FROM `messages` WHERE `workflow_id` = ? AND `position` = ?",
		workflowID,
		position,
	).Scan(&kind, &direction, &processed)
	if err == sql.ErrNoRows {
		return fmt.Errorf("marking command %s/%d: %w", workflowID, position, backend.ErrPositionNotFound)
	} else if err != nil {
		return fmt.Errorf("reading message: %w", err)
	}

	if kind != core.MessageKind_Command || direction != core.Direction_Output || !processed.Valid || processed.Bool {
		var p *bool
		if processed.Valid {
			p = &processed.Bool
		}

		return &backend.InvalidMarkError{
			WorkflowID: workflowID,
			Position:   position,
			Kind:       kind,
			Direction:  direction,
			Processed:  p,
		}
	}

	if _, err := tx.ExecContext(
		ctx,
		"UPDATE `messages` SET `processed` = TRUE WHERE `workflow_id` = ? AND `position` = ?",
		workflowID,
		position,
	); err != nil {
		return fmt.Errorf("marking command processed: %w", err)
	}

	return tx.Commit()
}

func (sb *sqliteBackend) Exists(ctx context.Context, workflowID string) (bool, error) {
	var exists bool
	if err := sb.db.QueryRowContext(
		ctx,
		"SELECT EXISTS(SELECT 1 FROM `messages` WHERE `workflow_id` = ?)",
		workflowID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking stream: %w", err)
	}

	return exists, nil
}

func (sb *sqliteBackend) Delete(ctx context.Context, workflowID string) error {
	if _, err := sb.db.ExecContext(
		ctx,
		"DELETE FROM `messages` WHERE `workflow_id` = ?",
		workflowID,
	); err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}

	sb.options.Metrics.Counter(metrickeys.StreamDeleted, metrics.Tags{metrickeys.WorkflowID: workflowID}, 1)

	return nil
}

func (sb *sqliteBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	s := &backend.Stats{}

	if err := sb.db.QueryRowContext(
		ctx,
		"SELECT COUNT(DISTINCT `workflow_id`) FROM `messages`",
	).Scan(&s.WorkflowStreams); err != nil {
		return nil, fmt.Errorf("counting streams: %w", err)
	}

	if err := sb.db.QueryRowContext(
		ctx,
		"SELECT COUNT(*) FROM `messages` WHERE `kind` = ? AND `direction` = ? AND `processed` = FALSE",
		core.MessageKind_Command,
		core.Direction_Output,
	).Scan(&s.PendingCommands); err != nil {
		return nil, fmt.Errorf("counting pending commands: %w", err)
	}

	return s, nil
}

func (sb *sqliteBackend) Tracer() trace.Tracer {
	return sb.options.TracerProvider.Tracer(backend.TracerName)
}

func (sb *sqliteBackend) Metrics() metrics.Client {
	return sb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "sqlite"})
}

func (sb *sqliteBackend) Options() *backend.Options {
	return sb.options
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}
