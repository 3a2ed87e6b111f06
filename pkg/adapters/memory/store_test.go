package memory_test

import (
	"testing"

	"github.com/colloquyhq/colloquy/pkg/adapters/memory"
	"github.com/colloquyhq/colloquy/pkg/ports"
)

func TestStore_Contract(t *testing.T) {
	ports.RunSnapshotStoreContract(t, memory.NewStore())
}
