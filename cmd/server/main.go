package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/cache"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/repository/memory"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	relay "github.com/stemsi/exstem-proctor/internal/signal"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// stores bundles the record store behind the service contracts.
type stores struct {
	exams     service.ExamStore
	questions service.QuestionStore
	attempts  service.AttemptStore
	presence  service.PresenceStore
	db        handler.Pinger
	close     func()
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Record Store ──────────────────────────────────────────────────
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open record store")
	}
	defer st.close()

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Initialize Services ──────────────────────────────────────────
	// Interfaces stay nil without Redis so services fall back to no-ops.
	var contentCache service.ContentCache
	if rdb != nil {
		contentCache = cache.NewPayloadCache(rdb, cache.DefaultPayloadTTL, log)
	}
	broker := monitor.NewBroker(rdb, log)
	locks := service.NewAttemptLocks()

	authService := service.NewAuthService(cfg)
	answerService := service.NewAnswerService(st.exams, st.questions, st.attempts, locks, broker, cfg.ReconcileMaxRetries, log)
	resultService := service.NewResultService(st.exams, st.questions, st.attempts, locks, broker, cfg.ReconcileMaxRetries, log)
	sessionService := service.NewSessionService(st.exams, st.questions, st.attempts, contentCache, locks, broker, cfg.ReconcileMaxRetries, log)
	examService := service.NewExamService(st.exams, st.questions, resultService, contentCache, log)
	monitorService := service.NewMonitorService(st.exams, st.questions, st.attempts, st.presence)

	// ─── Signaling Relay ──────────────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	var presence relay.PresenceRecorder
	var presenceWorker *worker.PresenceWorker
	if rdb != nil {
		presence = relay.NewPresenceQueue(rdb, log)
		presenceWorker = worker.NewPresenceWorker(st.presence, rdb, log)
	} else {
		presence = relay.NewDirectPresence(st.presence, log)
	}

	signalRelay := relay.NewRelay(relay.Options{
		SendBuffer: cfg.SignalSendBuffer,
		PongWait:   cfg.SignalPongWait,
	}, rdb, presence, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if presenceWorker != nil {
			presenceWorker.Start(workerCtx)
		}
	}()

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(sessionService, answerService, resultService, log),
		Exam:    handler.NewExamHandler(examService, monitorService, log),
		Monitor: handler.NewMonitorHandler(broker, examService, monitorService, log),
		Signal:  handler.NewSignalHandler(signalRelay, examService, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(st.db, rdb, signalRelay, log),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Close relay connections; hijacked sockets are not covered by Shutdown.
	signalRelay.Close()

	// 2. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 3. Stop the presence worker and wait for its final flush.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Presence worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// openStores connects the configured record store.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn().Msg("Using in-memory record store, data is lost on restart")
		mem := memory.NewStore()
		return &stores{
			exams:     mem,
			questions: mem,
			attempts:  mem,
			presence:  mem,
			close:     func() {},
		}, nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &stores{
		exams:     repository.NewExamRepository(pool),
		questions: repository.NewQuestionRepository(pool),
		attempts:  repository.NewAttemptRepository(pool),
		presence:  repository.NewPresenceRepository(pool),
		db:        pool,
		close:     pool.Close,
	}, nil
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
