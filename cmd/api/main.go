package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	mongoadapter "github.com/eventra/payment-settlement/internal/adapters/mongo"
	"github.com/eventra/payment-settlement/internal/adapters/rabbit"
	redisadapter "github.com/eventra/payment-settlement/internal/adapters/redis"
	"github.com/eventra/payment-settlement/internal/catalog"
	"github.com/eventra/payment-settlement/internal/config"
	"github.com/eventra/payment-settlement/internal/disbursement"
	httphandler "github.com/eventra/payment-settlement/internal/http"
	"github.com/eventra/payment-settlement/internal/idempotency"
	"github.com/eventra/payment-settlement/internal/inventory"
	"github.com/eventra/payment-settlement/internal/ledger"
	"github.com/eventra/payment-settlement/internal/observability"
	"github.com/eventra/payment-settlement/internal/payout"
	"github.com/eventra/payment-settlement/internal/rateLimit"
	"github.com/eventra/payment-settlement/internal/registration"
	"github.com/eventra/payment-settlement/internal/settlement"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("settlement")
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)
	catalogDocs := mongoadapter.NewCatalogRepository(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	inv := inventory.NewManager(repo)
	led := ledger.NewStore(repo)
	fin := registration.NewFinalizer(repo)
	orch := settlement.NewOrchestrator(repo, inv, fin, led, audit, logger, cfg.SettleMaxRetries)
	processor := payout.NewRabbitProcessor(rabbitPub)
	disb := disbursement.NewService(repo, led, processor, audit, logger, cfg.SettleMaxRetries)
	cat := catalog.NewService(repo, catalogDocs, logger)

	handlers := httphandler.NewHandlers(cfg, orch, disb, inv, led, cat, cache, idemp)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
