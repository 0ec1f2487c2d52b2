package memory

import (
	"testing"

	"github.com/deciderhq/go-decider/backend"
	"github.com/deciderhq/go-decider/backend/test"
)

func Test_MemoryBackend(t *testing.T) {
	test.BackendTest(t, func() backend.Backend {
		return NewMemoryBackend()
	}, nil)
}
