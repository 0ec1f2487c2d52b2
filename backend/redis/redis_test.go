package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"

	"github.com/deciderhq/go-decider/backend"
	"github.com/deciderhq/go-decider/backend/test"
)

func Test_RedisBackend(t *testing.T) {
	test.BackendTest(t, func() backend.Backend {
		mr := miniredis.RunT(t)

		client := redisv9.NewUniversalClient(&redisv9.UniversalOptions{
			Addrs: []string{mr.Addr()},
		})

		b, err := NewRedisBackend(client)
		if err != nil {
			t.Fatal(err)
		}

		return b
	}, func(b backend.Backend) {
		b.Close()
	})
}
