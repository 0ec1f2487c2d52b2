package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/deciderhq/go-decider/core"
)

func insertMessages(ctx context.Context, tx *sql.Tx, workflowID string, lastPosition int64, messages []*core.Message, clock clock.Clock) (int64, error) {
	const batchSize = 20
	for batchStart := 0; batchStart < len(messages); batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > len(messages) {
			batchEnd = len(messages)
		}
		batch := messages[batchStart:batchEnd]

		query := "INSERT INTO `messages` (`id`, `workflow_id`, `position`, `kind`, `direction`, `name`, `payload`, `timestamp`, `processed`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)" +
			strings.Repeat(", (?, ?, ?, ?, ?, ?, ?, ?, ?)", len(batch)-1)

		args := make([]any, 0, len(batch)*9)

		for _, m := range batch {
			lastPosition++

			timestamp := m.Timestamp
			if timestamp.IsZero() {
				timestamp = clock.Now()
			}

			var processed any
			if m.Processed != nil {
				processed = *m.Processed
			}

			args = append(args, m.ID, workflowID, lastPosition, m.Kind, m.Direction, m.Name, []byte(m.Payload), timestamp, processed)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("inserting messages: %w", err)
		}
	}

	return lastPosition, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*core.Message, error) {
	var payload []byte
	var processed sql.NullBool

	m := &core.Message{}

	if err := row.Scan(&m.ID, &m.WorkflowID, &m.Position, &m.Kind, &m.Direction, &m.Name, &payload, &m.Timestamp, &processed); err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	m.Payload = payload

	if processed.Valid {
		p := processed.Bool
		m.Processed = &p
	}

	return m, nil
}

func scanMessages(rows *sql.Rows) ([]*core.Message, error) {
	messages := make([]*core.Message, 0)

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}

		messages = append(messages, m)
	}

	return messages, rows.Err()
}
