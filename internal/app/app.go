package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"feedport/features/catalog"
	"feedport/features/job"
	"feedport/features/stats"
	"feedport/internal/adapter/gemini"
	"feedport/internal/config"
	"feedport/internal/executor"
	"feedport/internal/formula"
	"feedport/internal/lock"
	"feedport/internal/middleware"
	"feedport/internal/processor"
	"feedport/internal/settings"
	"feedport/internal/worker"
)

type Database interface {
	PingContext(ctx context.Context) error
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler       http.Handler
	JobService    *job.Service
	ChunkConsumer *worker.ChunkConsumer
	TickConsumer  *worker.TickConsumer

	cfg *config.Config
	pub TaskPublisher
}

func New(
	cfg *config.Config,
	db Database,
	taskPub TaskPublisher,
	logger *slog.Logger,
) (*App, error) {
	// Cast db to *sql.DB for repositories that require it. This keeps
	// the signature mockable with sqlmock.
	sqlDB := db.(*sql.DB)

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(sqlDB)
	settingsService := settings.NewService(settingsRepo)

	// Seed Gemini API Key from Config
	if cfg.GeminiAPIKey != "" {
		ctx := context.Background()
		set, err := settingsService.Get(ctx)
		if err == nil {
			if set.GeminiAPIKey == "" {
				set.GeminiAPIKey = cfg.GeminiAPIKey
				if err := settingsService.Update(ctx, set); err != nil {
					slog.Warn("failed to seed gemini api key", "error", err)
				} else {
					slog.Info("seeded gemini api key from environment")
				}
			}
		} else {
			slog.Warn("failed to fetch settings for seeding", "error", err)
		}
	}

	settingsHandler := settings.NewHandler(settingsService)
	runtime := &runtimeSettings{svc: settingsService, cfg: cfg}

	// Locks
	lockStore := lock.NewPostgresStore(sqlDB)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(sqlDB)
	jobService := job.NewService(jobRepo, taskPub, lockStore, runtime)
	jobHandler := job.NewHandler(jobService, cfg.UploadDir, cfg.MaxUploadSizeMB)

	// Feature: Catalog
	writer := catalog.NewPostgresWriter(sqlDB)

	// Feature: Stats
	statsHandler := stats.NewHandler(jobRepo, writer)

	// Transformation pipeline
	aiTransformer := gemini.NewDynamicTransformer(settingsService)
	evaluator := formula.NewEvaluator(runtime)
	proc := processor.New(evaluator, aiTransformer)

	// Chunk executor + consumers
	exec := executor.New(jobRepo, writer, lockStore, proc, taskPub, runtime)
	chunkConsumer := worker.NewChunkConsumer(exec)
	tickConsumer := worker.NewTickConsumer(jobService)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /jobs", middleware.CorrelationID(enableCORS(jobHandler.Create)))
	mux.Handle("GET /jobs", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/upload", middleware.CorrelationID(enableCORS(jobHandler.Upload)))
	mux.Handle("GET /jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Get)))
	mux.Handle("PUT /jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Update)))
	mux.Handle("DELETE /jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Delete)))
	mux.Handle("GET /jobs/{id}/preview", middleware.CorrelationID(enableCORS(jobHandler.Preview)))
	mux.Handle("PUT /jobs/{id}/mapping", middleware.CorrelationID(enableCORS(jobHandler.UpdateMapping)))
	mux.Handle("POST /jobs/{id}/{action}", middleware.CorrelationID(enableCORS(jobHandler.Action)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:       mux,
		JobService:    jobService,
		ChunkConsumer: chunkConsumer,
		TickConsumer:  tickConsumer,
		cfg:           cfg,
		pub:           taskPub,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.addr(),
		Handler: a.Handler,
	}

	go a.tickLoop(ctx)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) addr() string {
	port := a.cfg.ServerPort
	if port == 0 {
		port = 8081
	}
	return fmt.Sprintf(":%d", port)
}

// tickLoop publishes a scheduler heartbeat once a minute. The tick
// consumer's NSQ channel guarantees only one node acts on each tick.
func (a *App) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			payload, err := json.Marshal(worker.TickPayload{Now: t.UTC().Format(time.RFC3339)})
			if err != nil {
				continue
			}
			if err := a.pub.Publish(config.TopicImportTick, payload); err != nil {
				slog.Warn("failed to publish scheduler tick", "error", err)
			}
		}
	}
}

// runtimeSettings resolves tunables from the settings row, falling back
// to config defaults when unset.
type runtimeSettings struct {
	svc *settings.Service
	cfg *config.Config
}

func (r *runtimeSettings) DefaultBatchSize(ctx context.Context) int {
	if s, err := r.svc.Get(ctx); err == nil && s.DefaultBatchSize > 0 {
		return s.DefaultBatchSize
	}
	return r.cfg.DefaultBatchSize
}

func (r *runtimeSettings) LockTTL(ctx context.Context) time.Duration {
	if s, err := r.svc.Get(ctx); err == nil && s.LockTTLMinutes > 0 {
		return time.Duration(s.LockTTLMinutes) * time.Minute
	}
	return time.Duration(r.cfg.LockTTLMinutes) * time.Minute
}

func (r *runtimeSettings) FormulaEnabled(ctx context.Context) bool {
	if s, err := r.svc.Get(ctx); err == nil {
		return s.FormulaEnabled
	}
	return r.cfg.FormulaEnabled
}
