package storagetest

import (
	"testing"

	"github.com/louisbranch/drawroom/internal/services/collab/storage"
)

func TestMemoryStoreConformance(t *testing.T) {
	RunConformance(t, func(t *testing.T) storage.Store {
		return NewMemoryStore()
	})
}
