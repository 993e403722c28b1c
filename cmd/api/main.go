package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/envelope-ledger/internal/api/handlers"
	"github.com/dvloznov/envelope-ledger/internal/api/middleware"
	"github.com/dvloznov/envelope-ledger/internal/assistant"
	"github.com/dvloznov/envelope-ledger/internal/bank"
	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
	storeInmem "github.com/dvloznov/envelope-ledger/internal/eventstore/inmemory"
	storeSqlite "github.com/dvloznov/envelope-ledger/internal/eventstore/sqlite"
	"github.com/dvloznov/envelope-ledger/internal/gateway"
	"github.com/dvloznov/envelope-ledger/internal/jobs"
	jobsInmem "github.com/dvloznov/envelope-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/envelope-ledger/internal/logger"
	"github.com/dvloznov/envelope-ledger/internal/rules"
	"github.com/dvloznov/envelope-ledger/internal/service"
	"github.com/dvloznov/envelope-ledger/internal/syncer"
)

func main() {
	// Parse command-line flags
	var (
		port     = flag.String("port", "8080", "HTTP server port")
		dbPath   = flag.String("db", os.Getenv("LEDGER_DB"), "SQLite database path (empty for in-memory store)")
		deviceID = flag.String("device", os.Getenv("DEVICE_ID"), "Device identifier used on appended events")
		feedPath = flag.String("feed", os.Getenv("FEED_CSV"), "CSV feed file for import jobs (optional)")
		model    = flag.String("model", assistant.DefaultModelName, "Assistant model name")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	if *deviceID == "" {
		*deviceID = uuid.New().String()
		log.Warn().Str("device_id", *deviceID).Msg("No device ID configured, generated an ephemeral one")
	}

	// Initialize the event store
	var store eventstore.Store
	if *dbPath != "" {
		sqliteStore, err := storeSqlite.NewStore(*dbPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *dbPath).Msg("Failed to open database")
		}
		defer sqliteStore.Close()
		store = sqliteStore
		log.Info().Str("path", *dbPath).Msg("Using SQLite store")
	} else {
		store = storeInmem.NewStore()
		log.Warn().Msg("No database path configured, events will not survive a restart")
	}

	svc := service.New(store, *deviceID, log)
	gw := gateway.New(svc, log)
	engine := rules.NewEngine(log)
	importer := bank.NewImporter(store, engine, *deviceID)

	var asst assistant.Service
	if os.Getenv("GEMINI_API_KEY") != "" {
		asst = assistant.NewGeminiService(*model)
		log.Info().Str("model", *model).Msg("Assistant enabled")
	} else {
		log.Warn().Msg("No GEMINI_API_KEY set, assistant endpoint disabled")
	}

	var feed bank.Feed
	if *feedPath != "" {
		feed = bank.NewCSVFeed(*feedPath)
	}

	// Initialize job infrastructure
	jobStore := jobsInmem.NewStore()
	jobQueue := jobsInmem.NewQueue(100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job *jobs.Job) error {
		ctx = logger.WithContext(ctx, log.With().Str("job_id", job.JobID).Str("job_type", string(job.Type)).Logger())

		switch job.Type {
		case jobs.JobTypeSyncCycle:
			return runSyncJob(ctx, store, job)
		case jobs.JobTypeImportFeed:
			if feed == nil {
				return fmt.Errorf("no feed configured")
			}
			var start, end time.Time
			if job.StartDate != nil {
				start = *job.StartDate
			}
			if job.EndDate != nil {
				end = *job.EndDate
			}
			_, err := importer.Import(ctx, feed, start, end)
			return err
		default:
			return fmt.Errorf("unexpected job type: %s", job.Type)
		}
	}

	// Start job consumer in background
	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Initialize handlers
	syncHandler := handlers.NewSyncHandler(store, log)
	actionsHandler := handlers.NewActionsHandler(gw, svc, asst, log)
	bucketsHandler := handlers.NewBucketsHandler(svc, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, jobQueue, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/sync/push", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			syncHandler.Push(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			syncHandler.Pull(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/actions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			actionsHandler.Apply(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/assistant", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			actionsHandler.Assist(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/buckets", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			bucketsHandler.List(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			jobsHandler.EnqueueSync(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/import", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			jobsHandler.EnqueueImport(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.CORS(mux),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Str("device_id", *deviceID).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

// runSyncJob runs one push/pull cycle against the job's endpoint, creating
// fresh sync state for endpoints never synced before.
func runSyncJob(ctx context.Context, store eventstore.Store, job *jobs.Job) error {
	state, err := store.GetSyncState(ctx, job.Endpoint)
	if errors.Is(err, eventstore.ErrNotFound) {
		state = &domain.SyncState{Endpoint: job.Endpoint, Enabled: true}
	} else if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}

	coord := syncer.NewCoordinator(store, syncer.NewHTTPRemote(job.Endpoint))
	return coord.Sync(ctx, state)
}
