package api_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/caterbase/stock-engine/api"
	"github.com/caterbase/stock-engine/catalog"
	"github.com/caterbase/stock-engine/stock"
	memstore "github.com/caterbase/stock-engine/stock/store"
)

func newTestScheduler() *api.MaterializerScheduler {
	store := memstore.NewTxMemory()
	resolver := stock.NewResolver(store)
	mat := stock.NewMaterializer(store, resolver, catalog.NewStatic())

	s := api.NewMaterializerScheduler(mat)
	s.CheckInterval = time.Hour
	return s
}

func TestScheduler_Stop_Twice_IsHarmless(t *testing.T) {
	// GIVEN: A started scheduler
	// WHEN: Stopping it twice (server shutdown paths can overlap)
	// THEN: The second call is a no-op rather than a panic

	s := newTestScheduler()
	s.Start()

	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}

func TestScheduler_Stop_WithoutStart_IsHarmless(t *testing.T) {
	s := newTestScheduler()

	assert.NotPanics(t, func() {
		s.Stop()
	})
}

func TestScheduler_Disabled_DoesNotStart(t *testing.T) {
	s := newTestScheduler()
	s.Enabled = false

	s.Start()
	assert.NotPanics(t, func() {
		s.Stop()
	})
}
