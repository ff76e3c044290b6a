package main

import (
	"context"
	"fmt"

	"campusswap/api"
	"campusswap/auth"
	"campusswap/catalog"
	"campusswap/config"
	"campusswap/db"
	"campusswap/delivery"
	"campusswap/dispute"
	"campusswap/ledger"
	"campusswap/matching"
	"campusswap/notify"
	"campusswap/rating"
	"campusswap/swap"
	"campusswap/valuation"
	"campusswap/wishlist"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	pool    *pgxpool.Pool
	swaps   *swap.Service
	sweeper *swap.Sweeper
	relay   *notify.Relay
	handler *api.Handler
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database pool: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, pool: pool}

	taxonomy := catalog.DefaultTaxonomy()
	if cfg.TaxonomyPath != "" {
		if taxonomy, err = catalog.LoadTaxonomy(cfg.TaxonomyPath); err != nil {
			a.close()
			return nil, err
		}
	}

	items := catalog.NewRepository(pool)
	outbox := notify.NewOutbox()
	ledgerRepo := ledger.NewRepository(pool)
	disputes := dispute.NewRepository(pool)

	policy := swap.DefaultPolicy()
	policy.PointsTolerance = cfg.Swap.PointsTolerance
	policy.DisputeWindow = cfg.Swap.DisputeWindow
	policy.NegotiationInactivity = cfg.Swap.NegotiationInactivity
	policy.AssignTimeout = cfg.Delivery.AssignTimeout

	var assigner delivery.Assigner
	if cfg.Delivery.BaseURL != "" {
		assigner = delivery.NewHTTPAssigner(cfg.Delivery.BaseURL, cfg.Delivery.Token, cfg.Delivery.AssignTimeout, logger.Named("delivery"))
	} else {
		logger.Warn("DELIVERY_BASE_URL not set, scheduling will fail")
	}

	a.swaps = swap.NewService(swap.Deps{
		Pool:     pool,
		Repo:     swap.NewRepository(pool),
		Items:    items,
		Ledger:   ledger.New(ledgerRepo),
		Disputes: disputes,
		Outbox:   outbox,
		Assigner: assigner,
		Logger:   logger.Named("swap"),
	}).WithPolicy(policy)

	a.sweeper = swap.NewSweeper(a.swaps, swap.NewRepository(pool), items, logger.Named("sweeper")).
		WithListingTTL(cfg.Swap.ListingTTL)

	publisher, err := a.publisher(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.relay = notify.NewRelay(pool, outbox, publisher, logger.Named("relay")).
		WithBatchSize(cfg.Kafka.RelayBatch).
		WithMaxAttempts(cfg.Kafka.MaxAttempts)

	cache := valuation.NewCache(ctx, &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger.Named("valuation"))
	if closer, ok := cache.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}
	valuer := valuation.NewService(items,
		valuation.NewCachedEngine(valuation.NewEngine(taxonomy), cache, cfg.Redis.CacheTTL, logger.Named("valuation")),
		logger.Named("valuation"))

	matcher := matching.NewService(items, matching.NewEngine(taxonomy))
	accounts := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret).WithSignupPoints(cfg.SignupPoints)

	a.handler = api.New(api.Deps{
		Tokens:    accounts,
		Accounts:  accounts,
		Swaps:     a.swaps,
		Disputes:  dispute.NewService(disputes),
		Ledger:    ledgerRepo,
		Valuation: valuer,
		Matching:  matcher,
		Ratings:   rating.NewService(rating.NewRepository(pool), a.swaps).WithLogger(logger.Named("rating")),
		Wishlists: wishlist.NewService(pool, wishlist.NewRepository(pool), outbox, matcher),
		Logger:    logger.Named("http"),
	})
	return a, nil
}

// publisher picks Kafka when brokers are configured and the log publisher
// otherwise. With MONGO_URI set, events are archived to MongoDB first.
func (a *app) publisher(ctx context.Context) (notify.Publisher, error) {
	var out notify.Fanout
	if a.cfg.Mongo.URI != "" {
		history, closer, err := notify.ConnectHistory(ctx, a.cfg.Mongo.URI, a.cfg.Mongo.Database, a.logger.Named("history"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closer)
		out = append(out, history)
	}
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("KAFKA_BROKERS not set, relay will log events")
		return append(out, notify.NewLogPublisher(a.logger.Named("events"))), nil
	}
	p, err := notify.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Retries, a.logger.Named("kafka"))
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	a.closers = append(a.closers, p.Close)
	return append(out, p), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close", zap.Error(err))
		}
	}
	a.pool.Close()
}
