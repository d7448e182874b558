package store_test

import (
	"testing"

	"github.com/leadpulse/leadpulse/internal/store"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store.Store {
		st := store.NewMemory()
		t.Cleanup(func() { st.Close() })
		return st
	})
}
