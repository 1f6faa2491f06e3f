/*
scheduler.go - Automated snapshot materialization

PURPOSE:
  Periodically materializes yesterday's snapshots. Each tick is harmless when
  the day is already done: the materializer's existence probe turns the run
  into a skip, so a short interval only buys faster recovery after downtime.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Always targets the most recent fully-elapsed day (yesterday, UTC)
  - Skips days that already have snapshots
  - At-least-once: a missed tick is caught by the next one

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewMaterializerScheduler(materializer)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Materialize endpoint (manual trigger)
  - stock/materializer.go: the job itself
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/caterbase/stock-engine/stock"
)

// MaterializerScheduler runs the daily snapshot job in-process.
type MaterializerScheduler struct {
	Materializer  *stock.Materializer
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewMaterializerScheduler creates a new scheduler.
func NewMaterializerScheduler(m *stock.Materializer) *MaterializerScheduler {
	return &MaterializerScheduler{
		Materializer:  m,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ms *MaterializerScheduler) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ms.ticker = time.NewTicker(ms.CheckInterval)
	ms.wg.Add(1)

	go ms.run(ms.ticker)

	log.Printf("[Scheduler] Started with check interval: %v", ms.CheckInterval)
}

// Stop stops the scheduler. Safe to call more than once; only the first call
// does anything.
func (ms *MaterializerScheduler) Stop() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.ticker == nil {
		return
	}
	ms.ticker.Stop()
	ms.ticker = nil
	close(ms.stop)
	ms.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

// run takes its ticker as a parameter because Stop clears the field.
func (ms *MaterializerScheduler) run(ticker *time.Ticker) {
	defer ms.wg.Done()

	// Run immediately on start
	ms.checkAndProcess()

	for {
		select {
		case <-ticker.C:
			ms.checkAndProcess()
		case <-ms.stop:
			return
		}
	}
}

func (ms *MaterializerScheduler) checkAndProcess() {
	ctx := context.Background()
	target := stock.Today().AddDays(-1)

	result, err := ms.Materializer.Run(ctx, stock.RunInput{Date: target})
	observeMaterializerRun(result, err)
	if err != nil {
		log.Printf("[Scheduler] Materialization for %s failed: %v", target, err)
		return
	}
	if result.Skipped {
		return
	}

	log.Printf("[Scheduler] Materialized %s: %d items, %d errors",
		target, result.Processed, len(result.Errors))
	for _, itemErr := range result.Errors {
		log.Printf("[Scheduler] Item %s skipped: %s", itemErr.ItemID, itemErr.Reason)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (ms *MaterializerScheduler) RunNow() {
	ms.checkAndProcess()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (ms *MaterializerScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(ms.CheckInterval)
}
