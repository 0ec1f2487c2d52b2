package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/deciderhq/go-decider/backend"
	"github.com/deciderhq/go-decider/backend/metrics"
	"github.com/deciderhq/go-decider/core"
	"github.com/deciderhq/go-decider/internal/metrickeys"
)

// stream is the log of a single workflow instance. Its mutex serializes
// position assignment, so concurrent appends to the same instance never
// collide while appends to different instances proceed independently.
type stream struct {
	mu       sync.Mutex
	messages []*core.Message
}

type memoryBackend struct {
	mu      sync.RWMutex
	streams map[string]*stream

	clock   clock.Clock
	options *backend.Options
}

var _ backend.Backend = (*memoryBackend)(nil)

// NewMemoryBackend creates an in-memory message log. State lives for the
// lifetime of the backend value, there is no package-level state.
func NewMemoryBackend(opts ...backend.BackendOption) backend.Backend {
	return &memoryBackend{
		streams: make(map[string]*stream),
		clock:   clock.New(),
		options: backend.ApplyOptions(opts...),
	}
}

func (mb *memoryBackend) Append(ctx context.Context, workflowID string, messages []*core.Message) (int64, error) {
	if workflowID == "" {
		return 0, fmt.Errorf("workflow id must not be empty")
	}

	if len(messages) == 0 {
		return 0, fmt.Errorf("no messages to append")
	}

	s := mb.getOrCreateStream(workflowID)

	s.mu.Lock()
	defer s.mu.Unlock()

	lastPosition := int64(len(s.messages))

	for _, m := range messages {
		c := *m
		lastPosition++
		c.WorkflowID = workflowID
		c.Position = lastPosition
		if c.Timestamp.IsZero() {
			c.Timestamp = mb.clock.Now()
		}
		s.messages = append(s.messages, &c)
	}

	mb.options.Metrics.Counter(metrickeys.MessagesAppended, metrics.Tags{metrickeys.WorkflowID: workflowID}, int64(len(messages)))

	return lastPosition, nil
}

func (mb *memoryBackend) ReadStream(ctx context.Context, workflowID string, fromPosition int64) ([]*core.Message, error) {
	mb.mu.RLock()
	s, ok := mb.streams[workflowID]
	mb.mu.RUnlock()

	if !ok {
		return []*core.Message{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if fromPosition < 1 {
		fromPosition = 1
	}

	result := make([]*core.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Position >= fromPosition {
			c := *m
			result = append(result, &c)
		}
	}

	return result, nil
}

func (mb *memoryBackend) GetPendingCommands(ctx context.Context, workflowID string) ([]*core.Message, error) {
	result := make([]*core.Message, 0)

	for _, s := range mb.snapshotStreams(workflowID) {
		s.mu.Lock()
		for _, m := range s.messages {
			if m.Pending() {
				c := *m
				result = append(result, &c)
			}
		}
		s.mu.Unlock()
	}

	return result, nil
}

func (mb *memoryBackend) MarkCommandProcessed(ctx context.Context, workflowID string, position int64) error {
	mb.mu.RLock()
	s, ok := mb.streams[workflowID]
	mb.mu.RUnlock()

	if !ok {
		return fmt.Errorf("marking command %s/%d: %w", workflowID, position, backend.ErrStreamNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if position < 1 || position > int64(len(s.messages)) {
		return fmt.Errorf("marking command %s/%d: %w", workflowID, position, backend.ErrPositionNotFound)
	}

	m := s.messages[position-1]
	if !m.Pending() {
		return &backend.InvalidMarkError{
			WorkflowID: workflowID,
			Position:   position,
			Kind:       m.Kind,
			Direction:  m.Direction,
			Processed:  m.Processed,
		}
	}

	processed := true
	m.Processed = &processed

	return nil
}

func (mb *memoryBackend) Exists(ctx context.Context, workflowID string) (bool, error) {
	mb.mu.RLock()
	s, ok := mb.streams[workflowID]
	mb.mu.RUnlock()

	if !ok {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.messages) > 0, nil
}

func (mb *memoryBackend) Delete(ctx context.Context, workflowID string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, ok := mb.streams[workflowID]; ok {
		delete(mb.streams, workflowID)
		mb.options.Metrics.Counter(metrickeys.StreamDeleted, metrics.Tags{metrickeys.WorkflowID: workflowID}, 1)
	}

	return nil
}

func (mb *memoryBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	stats := &backend.Stats{}

	for _, s := range mb.snapshotStreams("") {
		s.mu.Lock()
		if len(s.messages) > 0 {
			stats.WorkflowStreams++
		}
		for _, m := range s.messages {
			if m.Pending() {
				stats.PendingCommands++
			}
		}
		s.mu.Unlock()
	}

	return stats, nil
}

func (mb *memoryBackend) Tracer() trace.Tracer {
	return mb.options.TracerProvider.Tracer(backend.TracerName)
}

func (mb *memoryBackend) Metrics() metrics.Client {
	return mb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "memory"})
}

func (mb *memoryBackend) Options() *backend.Options {
	return mb.options
}

func (mb *memoryBackend) Close() error {
	return nil
}

func (mb *memoryBackend) getOrCreateStream(workflowID string) *stream {
	mb.mu.RLock()
	s, ok := mb.streams[workflowID]
	mb.mu.RUnlock()

	if ok {
		return s
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if s, ok := mb.streams[workflowID]; ok {
		return s
	}

	s = &stream{}
	mb.streams[workflowID] = s

	return s
}

func (mb *memoryBackend) snapshotStreams(workflowID string) []*stream {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if workflowID != "" {
		if s, ok := mb.streams[workflowID]; ok {
			return []*stream{s}
		}

		return nil
	}

	result := make([]*stream, 0, len(mb.streams))
	for _, s := range mb.streams {
		result = append(result, s)
	}

	return result
}
