package redis

import (
	"github.com/deciderhq/go-decider/backend"
)

type RedisOptions struct {
	*backend.Options

	// KeyPrefix is prepended to every key written by the backend.
	KeyPrefix string
}

type RedisBackendOption func(*RedisOptions)

func WithKeyPrefix(prefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = prefix
	}
}

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}
