package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/hedged/internal/cache/redis"
	"github.com/alanyoungcy/hedged/internal/config"
	"github.com/alanyoungcy/hedged/internal/crypto"
	"github.com/alanyoungcy/hedged/internal/domain"
	"github.com/alanyoungcy/hedged/internal/funding"
	"github.com/alanyoungcy/hedged/internal/nonce"
	"github.com/alanyoungcy/hedged/internal/orchestrator"
	"github.com/alanyoungcy/hedged/internal/platform/drift"
	"github.com/alanyoungcy/hedged/internal/platform/hyperliquid"
	"github.com/alanyoungcy/hedged/internal/rebalance"
	"github.com/alanyoungcy/hedged/internal/store/postgres"
)

// Dependencies bundles the wired application components. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	DB           domain.DB
	Orchestrator *orchestrator.Orchestrator
	Funding      *funding.Provider
	Scheduler    *rebalance.Scheduler
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

	db := postgres.NewDB(pgClient)

	// --- Redis (optional: funding cache + distributed rebalance lock) ---
	var (
		rateCache funding.RateCache
		locks     domain.LockManager
	)
	if cfg.Redis.Enabled {
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

		rateCache = redis.NewFundingCache(redisClient, cfg.Funding.CacheTTL.Duration)
		locks = redis.NewLockManager(redisClient)
	}

	// --- Venue clients ---
	signer, err := crypto.NewSigner(cfg.Hyperliquid.SignerPrivateKey, cfg.Hyperliquid.SignerSource)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: hyperliquid signer: %w", err)
	}

	hlSeq := nonce.NewSequencer(domain.VenueHyperliquid, db.Accounts(), logger)
	hlClient := hyperliquid.New(cfg.Hyperliquid.BaseURL, signer, hlSeq, logger)

	drSeq := nonce.NewSequencer(domain.VenueDrift, db.Accounts(), logger)
	drClient, err := drift.New(cfg.Drift.GatewayURL, cfg.Drift.SignerSeedHex, drSeq, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: drift client: %w", err)
	}

	registry := orchestrator.NewVenueRegistry(hlClient, drClient)

	// --- Orchestrator, funding, rebalance ---
	orch := orchestrator.New(db, registry, logger)

	provider := funding.NewProvider(rateCache, logger,
		funding.NewHyperliquidSource(cfg.Hyperliquid.BaseURL),
		funding.NewDriftSource(cfg.Drift.GatewayURL),
	)

	engine := rebalance.NewEngine(db, provider, orch, logger)
	scheduler := rebalance.NewScheduler(engine, cfg.Rebalance.Interval.Duration, locks, logger)

	return &Dependencies{
		DB:           db,
		Orchestrator: orch,
		Funding:      provider,
		Scheduler:    scheduler,
	}, cleanup, nil
}
