package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/openhooks/matchbook/internal/blob/s3"
	"github.com/openhooks/matchbook/internal/cache/redis"
	"github.com/openhooks/matchbook/internal/config"
	"github.com/openhooks/matchbook/internal/domain"
	"github.com/openhooks/matchbook/internal/engine"
	"github.com/openhooks/matchbook/internal/events"
	"github.com/openhooks/matchbook/internal/events/kafka"
	"github.com/openhooks/matchbook/internal/ledger"
	"github.com/openhooks/matchbook/internal/pool"
	"github.com/openhooks/matchbook/internal/service"
	"github.com/openhooks/matchbook/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core
	Market domain.Market
	Tokens *ledger.Ledger
	Engine *engine.Engine
	Pool   *pool.Pool

	// Stores
	OrderStore domain.OrderStore
	MatchStore domain.MatchStore
	EventStore domain.EventStore

	// Caches
	BookCache domain.BookCache
	SignalBus domain.SignalBus

	// Blob storage, nil unless S3 is configured.
	Archiver *s3blob.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Market: domain.Market{
			Token0:      common.HexToAddress(cfg.Market.Token0),
			Token1:      common.HexToAddress(cfg.Market.Token1),
			FeeBips:     uint32(cfg.Market.FeeBips),
			TickSpacing: int32(cfg.Market.TickSpacing),
		},
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pgPool := pgClient.Pool()
	orderStore := postgres.NewOrderStore(pgPool)
	matchStore := postgres.NewMatchStore(pgPool)
	eventStore := postgres.NewEventStore(pgPool)
	deps.OrderStore = orderStore
	deps.MatchStore = matchStore
	deps.EventStore = eventStore

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.BookCache = redis.NewBookCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Event pipeline ---
	// Engine events fan out to the Postgres projector, the Redis signal bus,
	// and (when brokers are configured) Kafka.
	projector := service.NewProjector(orderStore, matchStore, eventStore, deps.BookCache, logger)
	pubs := []domain.EventPublisher{projector, events.NewBusPublisher(deps.SignalBus)}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, func() { _ = producer.Close() })
		pubs = append(pubs, producer)
	}
	publisher := events.NewFanout(logger, pubs...)

	// --- Engine and pool ---
	deps.Tokens = ledger.New()
	admin := common.HexToAddress(cfg.Engine.Admin)
	deps.Engine = engine.New(
		deps.Tokens,
		common.HexToAddress(cfg.Engine.Custody),
		common.HexToAddress(cfg.Engine.PoolCustody),
		admin,
		publisher,
		logger,
	)
	for _, w := range cfg.Engine.Whitelist {
		if err := deps.Engine.AddToWhitelist(ctx, admin, common.HexToAddress(w)); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: seed whitelist %s: %w", w, err)
		}
	}
	deps.Pool = pool.New(
		deps.Market,
		deps.Tokens,
		common.HexToAddress(cfg.Engine.PoolCustody),
		deps.Engine,
		logger,
	)

	// --- S3 blob storage ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 bucket check: %w", err)
		}

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), matchStore, orderStore, logger)
	}

	return deps, cleanup, nil
}
