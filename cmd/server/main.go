package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studytree-ai/internal/ai"
	"github.com/suPer8Hu/studytree-ai/internal/config"
	"github.com/suPer8Hu/studytree-ai/internal/db"
	"github.com/suPer8Hu/studytree-ai/internal/generation"
	"github.com/suPer8Hu/studytree-ai/internal/httpapi"
	"github.com/suPer8Hu/studytree-ai/internal/logger"
	"github.com/suPer8Hu/studytree-ai/internal/ratelimit"
	"github.com/suPer8Hu/studytree-ai/internal/store/rabbitmq"
	"github.com/suPer8Hu/studytree-ai/internal/store/redisstore"
	"github.com/suPer8Hu/studytree-ai/internal/store/treestore"
	"github.com/suPer8Hu/studytree-ai/internal/tracer"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.LogFile, cfg.IsProduction())
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer := tracer.Init(cfg, log)

	// provider choice is fixed for the life of the process
	engine, err := ai.NewEngine(ctx, ai.BuiltinRegistry(cfg), cfg.AIProvider, "")
	if err != nil {
		log.Fatal("ai provider", zap.String("provider", cfg.AIProvider), zap.Error(err))
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		// the limiter's fail policy decides what happens per request
		log.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	cancel()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	ledger := generation.NewLedger(gdb)
	if err := ledger.AutoMigrate(); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	var retry generation.RetryQueue
	if pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue); err != nil {
		log.Warn("rabbitmq unavailable, publish replays disabled", zap.Error(err))
	} else {
		defer pub.Close()
		retry = pub
	}

	store := treestore.NewClient(cfg.StoreBaseURL, treestore.ServiceCredential(cfg.StoreServiceToken),
		cfg.StoreFetchTimeout, cfg.StorePublishTimeout)

	gen := generation.NewService(generation.Options{
		Limiter:                    ratelimit.New(rds, cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitFailOpen, log),
		Nodes:                      store,
		Store:                      store,
		Engine:                     engine,
		Ledger:                     ledger,
		Retry:                      retry,
		Log:                        log,
		PersistPartialOnDisconnect: cfg.PersistPartialOnDisconnect,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(cfg, gen, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server started",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("ai_provider", engine.ModelName()),
			zap.Bool("publish_replay", retry != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if err := gen.Wait(shutdownCtx); err != nil {
		log.Warn("stream publishes still running at exit", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown", zap.Error(err))
	}
}
