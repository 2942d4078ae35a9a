package store_test

import (
	"testing"

	"github.com/flowfc-progression/internal/store"
	"github.com/flowfc-progression/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (store.Store, func()) {
		return store.NewMemory(), func() {}
	})
}
