package backend

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/deciderhq/go-decider/backend/metrics"
	"github.com/deciderhq/go-decider/core"
)

var (
	// ErrStreamNotFound is returned when an operation requires an existing
	// workflow stream and none was found.
	ErrStreamNotFound = errors.New("workflow stream not found")

	// ErrPositionNotFound is returned when a position does not exist in the
	// given workflow stream.
	ErrPositionNotFound = errors.New("position not found in workflow stream")
)

// InvalidMarkError is returned by MarkCommandProcessed when the message at
// the given position exists but is not an unprocessed outbound command.
type InvalidMarkError struct {
	WorkflowID string
	Position   int64
	Kind       core.MessageKind
	Direction  core.Direction
	Processed  *bool
}

func (e *InvalidMarkError) Error() string {
	if e.Processed != nil && *e.Processed {
		return fmt.Sprintf("message %s/%d is already processed", e.WorkflowID, e.Position)
	}

	return fmt.Sprintf("message %s/%d is not an outbound command (kind: %s, direction: %s)", e.WorkflowID, e.Position, e.Kind, e.Direction)
}

const TracerName = "go-decider"

// Backend is the append-only, per-workflow message log. Messages gain
// strictly increasing, gapless positions at append time. Outbound commands
// are additionally tracked until a dispatcher marks them processed.
//
// All operations are safe for concurrent use. Operations on different
// workflow ids do not block each other.
type Backend interface {
	// Append atomically appends the given messages to the workflow's log and
	// assigns contiguous positions starting at the current maximum plus one.
	// Positions set by the caller are ignored. Returns the position of the
	// last appended message. Either the whole batch is appended or none of
	// it is.
	Append(ctx context.Context, workflowID string, messages []*core.Message) (int64, error)

	// ReadStream returns all messages with position >= fromPosition in
	// ascending position order. An unknown workflow id yields an empty
	// result, not an error.
	ReadStream(ctx context.Context, workflowID string, fromPosition int64) ([]*core.Message, error)

	// GetPendingCommands returns the outbound commands that have not been
	// marked processed yet. If workflowID is empty, pending commands across
	// all workflows are returned.
	GetPendingCommands(ctx context.Context, workflowID string) ([]*core.Message, error)

	// MarkCommandProcessed flips the processed flag of the outbound command
	// at the given position. It returns ErrStreamNotFound for an unknown
	// workflow, ErrPositionNotFound for an unknown position, and an
	// *InvalidMarkError if the message is not an unprocessed outbound
	// command. It never silently no-ops.
	MarkCommandProcessed(ctx context.Context, workflowID string, position int64) error

	// Exists reports whether the workflow has at least one appended message
	// that has not been deleted.
	Exists(ctx context.Context, workflowID string) (bool, error)

	// Delete removes the workflow's entire stream. Deleting an unknown
	// workflow is not an error.
	Delete(ctx context.Context, workflowID string) error

	// GetStats returns stats about the backend
	GetStats(ctx context.Context) (*Stats, error)

	// Tracer returns the configured trace provider for the backend
	Tracer() trace.Tracer

	// Metrics returns the configured metrics client for the backend
	Metrics() metrics.Client

	// Options returns the configured options for the backend
	Options() *Options

	// Close closes any underlying resources
	Close() error
}
