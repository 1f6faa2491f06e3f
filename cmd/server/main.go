/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load config (file + STOCK_ env vars)
  2. Initialize SQLite store
  3. Create API handler with dependencies
  4. Start the snapshot scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Optional config file (YAML)
  -addr    HTTP listen address, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/stock.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run with config file
  ./server -config=./stock.yaml

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caterbase/stock-engine/access"
	"github.com/caterbase/stock-engine/api"
	"github.com/caterbase/stock-engine/catalog"
	"github.com/caterbase/stock-engine/config"
	"github.com/caterbase/stock-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "config file path (optional)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the engine. The static catalog and the allow-all gate are the
	// single-box defaults; deployments with real catalog/membership services
	// swap these out.
	cat := catalog.NewStatic()
	handler := api.NewHandler(store, cat, access.NewAllowAll())
	handler.MaterializeSecret = cfg.Materializer.Secret

	// Snapshot scheduler
	scheduler := api.NewMaterializerScheduler(handler.Materializer)
	scheduler.Enabled = cfg.Materializer.SchedulerEnabled
	scheduler.CheckInterval = cfg.Materializer.CheckInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		Metrics:   cfg.Metrics.Enabled,
		Scenarios: cfg.HTTP.DemoScenarios,
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
