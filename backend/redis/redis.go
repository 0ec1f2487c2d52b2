package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/benbjohnson/clock"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/deciderhq/go-decider/backend"
	"github.com/deciderhq/go-decider/backend/metrics"
	"github.com/deciderhq/go-decider/core"
	"github.com/deciderhq/go-decider/internal/metrickeys"
)

// maxTxRetries bounds the optimistic-concurrency retry loop for appends and
// mark-processed calls.
const maxTxRetries = 100

func NewRedisBackend(client redis.UniversalClient, opts ...RedisBackendOption) (backend.Backend, error) {
	options := &RedisOptions{
		Options:   backend.ApplyOptions(),
		KeyPrefix: "decider:",
	}

	for _, opt := range opts {
		opt(options)
	}

	return &redisBackend{
		rdb:     client,
		clock:   clock.New(),
		options: options,
	}, nil
}

type redisBackend struct {
	rdb     redis.UniversalClient
	clock   clock.Clock
	options *RedisOptions
}

var _ backend.Backend = (*redisBackend)(nil)

func (rb *redisBackend) Append(ctx context.Context, workflowID string, messages []*core.Message) (int64, error) {
	if workflowID == "" {
		return 0, fmt.Errorf("workflow id must not be empty")
	}

	if len(messages) == 0 {
		return 0, fmt.Errorf("no messages to append")
	}

	prefix := rb.options.KeyPrefix

	var lastPosition int64

	// Optimistic transaction: watch the position counter, stamp positions,
	// and write everything in one MULTI/EXEC. A concurrent append to the
	// same workflow bumps the counter and fails the EXEC, in which case we
	// start over with fresh positions.
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, positionKey(prefix, workflowID)).Int64()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("reading position counter: %w", err)
		}

		type entry struct {
			position int64
			data     string
			pending  bool
		}

		entries := make([]entry, 0, len(messages))

		lastPosition = current
		for _, m := range messages {
			c := *m
			lastPosition++
			c.WorkflowID = workflowID
			c.Position = lastPosition
			if c.Timestamp.IsZero() {
				c.Timestamp = rb.clock.Now()
			}

			data, err := json.Marshal(&c)
			if err != nil {
				return fmt.Errorf("marshaling message: %w", err)
			}

			entries = append(entries, entry{position: c.Position, data: string(data), pending: c.Pending()})
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, positionKey(prefix, workflowID), lastPosition, 0)
			p.SAdd(ctx, workflowsKey(prefix), workflowID)

			for _, e := range entries {
				p.HSet(ctx, streamKey(prefix, workflowID), strconv.FormatInt(e.position, 10), e.data)

				if e.pending {
					p.ZAdd(ctx, pendingKey(prefix, workflowID), redis.Z{
						Score:  float64(e.position),
						Member: strconv.FormatInt(e.position, 10),
					})
				}
			}

			return nil
		})

		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := rb.rdb.Watch(ctx, txf, positionKey(prefix, workflowID))
		if err == nil {
			rb.options.Metrics.Counter(metrickeys.MessagesAppended, metrics.Tags{metrickeys.WorkflowID: workflowID}, int64(len(messages)))
			return lastPosition, nil
		}

		if err == redis.TxFailedErr {
			continue
		}

		return 0, fmt.Errorf("appending messages: %w", err)
	}

	return 0, fmt.Errorf("appending messages: too many conflicting writers")
}

func (rb *redisBackend) ReadStream(ctx context.Context, workflowID string, fromPosition int64) ([]*core.Message, error) {
	data, err := rb.rdb.HGetAll(ctx, streamKey(rb.options.KeyPrefix, workflowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	messages := make([]*core.Message, 0, len(data))
	for _, d := range data {
		var m core.Message
		if err := json.Unmarshal([]byte(d), &m); err != nil {
			return nil, fmt.Errorf("unmarshaling message: %w", err)
		}

		if m.Position >= fromPosition {
			messages = append(messages, &m)
		}
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Position < messages[j].Position
	})

	return messages, nil
}

func (rb *redisBackend) GetPendingCommands(ctx context.Context, workflowID string) ([]*core.Message, error) {
	workflowIDs := []string{workflowID}

	if workflowID == "" {
		ids, err := rb.rdb.SMembers(ctx, workflowsKey(rb.options.KeyPrefix)).Result()
		if err != nil {
			return nil, fmt.Errorf("listing workflows: %w", err)
		}

		workflowIDs = ids
	}

	result := make([]*core.Message, 0)

	for _, id := range workflowIDs {
		messages, err := rb.pendingCommands(ctx, id)
		if err != nil {
			return nil, err
		}

		result = append(result, messages...)
	}

	return result, nil
}

func (rb *redisBackend) pendingCommands(ctx context.Context, workflowID string) ([]*core.Message, error) {
	prefix := rb.options.KeyPrefix

	positions, err := rb.rdb.ZRange(ctx, pendingKey(prefix, workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading pending commands: %w", err)
	}

	if len(positions) == 0 {
		return nil, nil
	}

	data, err := rb.rdb.HMGet(ctx, streamKey(prefix, workflowID), positions...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading pending command messages: %w", err)
	}

	messages := make([]*core.Message, 0, len(data))
	for _, d := range data {
		s, ok := d.(string)
		if !ok {
			continue
		}

		var m core.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("unmarshaling message: %w", err)
		}

		messages = append(messages, &m)
	}

	return messages, nil
}

func (rb *redisBackend) MarkCommandProcessed(ctx context.Context, workflowID string, position int64) error {
	prefix := rb.options.KeyPrefix
	field := strconv.FormatInt(position, 10)

	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, streamKey(prefix, workflowID)).Result()
		if err != nil {
			return fmt.Errorf("checking stream: %w", err)
		}

		if exists == 0 {
			return fmt.Errorf("marking command %s/%d: %w", workflowID, position, backend.ErrStreamNotFound)
		}

		data, err := tx.HGet(ctx, streamKey(prefix, workflowID), field).Result()
		if err == redis.Nil {
			return fmt.Errorf("marking command %s/%d: %w", workflowID, position, backend.ErrPositionNotFound)
		} else if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}

		var m core.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return fmt.Errorf("unmarshaling message: %w", err)
		}

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

		updated, err := json.Marshal(&m)
		if err != nil {
			return fmt.Errorf("marshaling message: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, streamKey(prefix, workflowID), field, string(updated))
			p.ZRem(ctx, pendingKey(prefix, workflowID), field)

			return nil
		})

		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := rb.rdb.Watch(ctx, txf, streamKey(prefix, workflowID))
		if err == redis.TxFailedErr {
			continue
		}

		return err
	}

	return fmt.Errorf("marking command %s/%d: too many conflicting writers", workflowID, position)
}

func (rb *redisBackend) Exists(ctx context.Context, workflowID string) (bool, error) {
	exists, err := rb.rdb.Exists(ctx, streamKey(rb.options.KeyPrefix, workflowID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking stream: %w", err)
	}

	return exists > 0, nil
}

func (rb *redisBackend) Delete(ctx context.Context, workflowID string) error {
	prefix := rb.options.KeyPrefix

	_, err := rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, streamKey(prefix, workflowID), positionKey(prefix, workflowID), pendingKey(prefix, workflowID))
		p.SRem(ctx, workflowsKey(prefix), workflowID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}

	rb.options.Metrics.Counter(metrickeys.StreamDeleted, metrics.Tags{metrickeys.WorkflowID: workflowID}, 1)

	return nil
}

func (rb *redisBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	prefix := rb.options.KeyPrefix

	ids, err := rb.rdb.SMembers(ctx, workflowsKey(prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}

	s := &backend.Stats{
		WorkflowStreams: int64(len(ids)),
	}

	for _, id := range ids {
		pending, err := rb.rdb.ZCard(ctx, pendingKey(prefix, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("counting pending commands: %w", err)
		}

		s.PendingCommands += pending
	}

	return s, nil
}

func (rb *redisBackend) Tracer() trace.Tracer {
	return rb.options.TracerProvider.Tracer(backend.TracerName)
}

func (rb *redisBackend) Metrics() metrics.Client {
	return rb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "redis"})
}

func (rb *redisBackend) Options() *backend.Options {
	return rb.options.Options
}

func (rb *redisBackend) Close() error {
	return rb.rdb.Close()
}
