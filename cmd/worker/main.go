package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/studytree-ai/internal/config"
	"github.com/suPer8Hu/studytree-ai/internal/db"
	"github.com/suPer8Hu/studytree-ai/internal/generation"
	"github.com/suPer8Hu/studytree-ai/internal/logger"
	"github.com/suPer8Hu/studytree-ai/internal/store/rabbitmq"
	"github.com/suPer8Hu/studytree-ai/internal/store/treestore"
	"go.uber.org/zap"
)

type replayer interface {
	ReplayPublish(ctx context.Context, requestID string, maxAttempts int) (generation.ReplayVerdict, error)
}

type retryScheduler interface {
	EnqueueRetry(ctx context.Context, requestID string, delay time.Duration) error
}

func main() {
	cfg := config.Load()

	log := logger.New(cfg.LogFile, cfg.IsProduction()).With(zap.String("component", "publish-worker"))
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	ledger := generation.NewLedger(gdb)
	if err := ledger.AutoMigrate(); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	store := treestore.NewClient(cfg.StoreBaseURL, treestore.ServiceCredential(cfg.StoreServiceToken),
		cfg.StoreFetchTimeout, cfg.StorePublishTimeout)

	// replays need only the store and the ledger
	svc := generation.NewService(generation.Options{
		Store:  store,
		Ledger: ledger,
		Log:    log,
	})

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit publisher", zap.Error(err))
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency),
		zap.Int("max_attempts", cfg.PublishMaxAttempts))

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With(zap.Int("worker", workerID))
			for d := range jobs {
				handleDelivery(ctx, d, svc, pub, cfg.PublishMaxAttempts, cfg.PublishRetryDelay, wlog)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

// handleDelivery replays one publish and settles the delivery: ack on
// success or after scheduling a delayed retry, nack to the DLQ once attempts
// are exhausted or the message is unusable.
func handleDelivery(ctx context.Context, d amqp.Delivery, svc replayer, retry retryScheduler, maxAttempts int, delay time.Duration, log *zap.Logger) {
	m, err := rabbitmq.DecodeMessage(d.Body)
	if err != nil || m.RequestID == "" {
		log.Warn("bad message", zap.ByteString("body", d.Body), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	log = log.With(zap.String("request_id", m.RequestID))

	start := time.Now()
	verdict, err := svc.ReplayPublish(ctx, m.RequestID, maxAttempts)
	switch verdict {
	case generation.ReplayDone:
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", zap.Error(err))
		}
		return

	case generation.ReplayRetry:
		if rerr := retry.EnqueueRetry(ctx, m.RequestID, delay); rerr != nil {
			// leave it to the broker rather than lose it
			log.Error("schedule retry", zap.Error(rerr))
			_ = d.Nack(false, true)
			return
		}
		log.Info("publish replay rescheduled", zap.Duration("delay", delay), zap.Duration("cost", time.Since(start)), zap.Error(err))
		_ = d.Ack(false)

	default:
		log.Error("publish replay dropped", zap.Duration("cost", time.Since(start)), zap.Error(err))
		_ = d.Nack(false, false)
	}
}
