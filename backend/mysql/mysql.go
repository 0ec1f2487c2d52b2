package mysql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/golang-migrate/migrate/v4"
	mysqlmigrate "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/trace"

	"github.com/deciderhq/go-decider/backend"
	"github.com/deciderhq/go-decider/backend/metrics"
	"github.com/deciderhq/go-decider/core"
	"github.com/deciderhq/go-decider/internal/metrickeys"

	_ "github.com/go-sql-driver/mysql"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func NewMysqlBackend(host string, port int, user, password, database string, opts ...option) backend.Backend {
	options := &options{
		Options:         backend.ApplyOptions(),
		ApplyMigrations: true,
	}

	for _, opt := range opts {
		opt(options)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&interpolateParams=true", user, password, host, port, database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		panic(err)
	}

	b := &mysqlBackend{
		dsn:     dsn,
		db:      db,
		clock:   clock.New(),
		options: options,
	}

	if options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

type mysqlBackend struct {
	dsn     string
	db      *sql.DB
	clock   clock.Clock
	options *options
}

var _ backend.Backend = (*mysqlBackend)(nil)

// Migrate applies any pending database migrations.
func (mb *mysqlBackend) Migrate() error {
	dbi, err := mysqlmigrate.WithInstance(mb.db, &mysqlmigrate.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "mysql", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (mb *mysqlBackend) Append(ctx context.Context, workflowID string, messages []*core.Message) (int64, error) {
	if workflowID == "" {
		return 0, fmt.Errorf("workflow id must not be empty")
	}

	if len(messages) == 0 {
		return 0, fmt.Errorf("no messages to append")
	}

	tx, err := mb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Concurrent appenders to the same workflow serialize on the stream's
	// counter row. A MAX() over the messages table would only take gap locks
	// for a new stream, which do not exclude each other.
	if _, err := tx.ExecContext(
		ctx,
		"INSERT INTO `streams` (`workflow_id`, `last_position`) VALUES (?, 0) ON DUPLICATE KEY UPDATE `last_position` = `last_position`",
		workflowID,
	); err != nil {
		return 0, fmt.Errorf("creating stream: %w", err)
	}

	var lastPosition int64
	if err := tx.QueryRowContext(
		ctx,
		"SELECT `last_position` FROM `streams` WHERE `workflow_id` = ? FOR UPDATE",
		workflowID,
	).Scan(&lastPosition); err != nil {
		return 0, fmt.Errorf("reading last position: %w", err)
	}

	lastPosition, err = insertMessages(ctx, tx, workflowID, lastPosition, messages, mb.clock)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(
		ctx,
		"UPDATE `streams` SET `last_position` = ? WHERE `workflow_id` = ?",
		lastPosition,
		workflowID,
	); err != nil {
		return 0, fmt.Errorf("updating last position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("appending messages: %w", err)
	}

	mb.options.Metrics.Counter(metrickeys.MessagesAppended, metrics.Tags{metrickeys.WorkflowID: workflowID}, int64(len(messages)))

	return lastPosition, nil
}

func (mb *mysqlBackend) ReadStream(ctx context.Context, workflowID string, fromPosition int64) ([]*core.Message, error) {
	rows, err := mb.db.QueryContext(
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

func (mb *mysqlBackend) GetPendingCommands(ctx context.Context, workflowID string) ([]*core.Message, error) {
	query := "SELECT `id`, `workflow_id`, `position`, `kind`, `direction`, `name`, `payload`, `timestamp`, `processed` FROM `messages` WHERE `kind` = ? AND `direction` = ? AND `processed` = FALSE"
	args := []any{core.MessageKind_Command, core.Direction_Output}

	if workflowID != "" {
		query += " AND `workflow_id` = ?"
		args = append(args, workflowID)
	}

	rows, err := mb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending commands: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (mb *mysqlBackend) MarkCommandProcessed(ctx context.Context, workflowID string, position int64) error {
	tx, err := mb.db.BeginTx(ctx, nil)
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
		"SELECT `kind`, `direction`, `processed` FROM `messages` WHERE `workflow_id` = ? AND `position` = ? FOR UPDATE",
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

func (mb *mysqlBackend) Exists(ctx context.Context, workflowID string) (bool, error) {
	var exists bool
	if err := mb.db.QueryRowContext(
		ctx,
		"SELECT EXISTS(SELECT 1 FROM `messages` WHERE `workflow_id` = ?)",
		workflowID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking stream: %w", err)
	}

	return exists, nil
}

func (mb *mysqlBackend) Delete(ctx context.Context, workflowID string) error {
	tx, err := mb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		"DELETE FROM `messages` WHERE `workflow_id` = ?",
		workflowID,
	); err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}

	// Remove the counter row as well so a re-created stream starts at position 1.
	if _, err := tx.ExecContext(
		ctx,
		"DELETE FROM `streams` WHERE `workflow_id` = ?",
		workflowID,
	); err != nil {
		return fmt.Errorf("deleting stream counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}

	mb.options.Metrics.Counter(metrickeys.StreamDeleted, metrics.Tags{metrickeys.WorkflowID: workflowID}, 1)

	return nil
}

func (mb *mysqlBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	s := &backend.Stats{}

	if err := mb.db.QueryRowContext(
		ctx,
		"SELECT COUNT(DISTINCT `workflow_id`) FROM `messages`",
	).Scan(&s.WorkflowStreams); err != nil {
		return nil, fmt.Errorf("counting streams: %w", err)
	}

	if err := mb.db.QueryRowContext(
		ctx,
		"SELECT COUNT(*) FROM `messages` WHERE `kind` = ? AND `direction` = ? AND `processed` = FALSE",
		core.MessageKind_Command,
		core.Direction_Output,
	).Scan(&s.PendingCommands); err != nil {
		return nil, fmt.Errorf("counting pending commands: %w", err)
	}

	return s, nil
}

func (mb *mysqlBackend) Tracer() trace.Tracer {
	return mb.options.TracerProvider.Tracer(backend.TracerName)
}

func (mb *mysqlBackend) Metrics() metrics.Client {
	return mb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "mysql"})
}

func (mb *mysqlBackend) Options() *backend.Options {
	return mb.options.Options
}

func (mb *mysqlBackend) Close() error {
	return mb.db.Close()
}
