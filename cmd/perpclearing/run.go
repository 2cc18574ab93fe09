package main

import (
	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/ingestion"
	"PerpClearing/internal/keeper"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/persistence"
	"PerpClearing/internal/projection"
	"PerpClearing/internal/query"
	"PerpClearing/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// run wires the engine, its workers and the transports, and blocks until
// ctx is cancelled or a worker fails.
func run(ctx context.Context, cfg Config, logger zerolog.Logger) error {
	owner, keeperAddr, err := cfg.Validate()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthChecker()

	params := core.DefaultParams(owner)
	params.Genesis = cfg.Genesis
	params.PriceMaxAge = cfg.PriceMaxAge
	params.IdempotencyCapacity = cfg.IdempotencyLRUCapacity

	// Persist blocks (backpressure), projection drops.
	persistChan := make(chan core.Output, cfg.PersistChanSize)
	projectionChan := make(chan core.Output, cfg.ProjectionChanSize)
	opts := []core.Option{
		core.WithPersistChan(persistChan),
		core.WithProjectionChan(projectionChan),
		core.WithSnapshotEvery(cfg.SnapshotInterval),
		core.WithMetrics(metrics),
		core.WithLogger(logger.With().Str("component", "engine").Logger()),
	}

	// --- Storage ---
	var (
		db       *sql.DB
		accounts *persistence.Accounts
		snaps    persistence.SnapshotStore
		source   persistence.EnvelopeSource
		writer   persistence.BatchWriter
		store    *projection.Store
	)
	if cfg.PostgresURL != "" {
		db, err = openPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		health.AddProbe("postgres", func() error {
			pctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return db.PingContext(pctx)
		})

		accounts = persistence.NewAccounts(params.TokenSymbol,
			core.LedgerAddress(), core.PoolAddress(), core.MarketAddress(params.Market.Symbol))
		pgWriter := persistence.NewPostgresBatchWriter(db, accounts, metrics)
		snaps = persistence.NewPostgresSnapshotStore(db)
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("redis url: %w", err)
			}
			rdb := redis.NewClient(opt)
			defer rdb.Close()
			cache := persistence.NewCachedSnapshotStore(snaps, rdb, cfg.SnapshotCacheTTL, logger)
			pgWriter.WithCache(cache)
			snaps = cache
		}
		writer = pgWriter
		source = persistence.NewEventLogReader(db)
		store = projection.NewStore(db, accounts)
		opts = append(opts, core.WithDurableIdempotency(persistence.NewPostgresIdempotency(db)))
	} else {
		logger.Warn().Msg("no postgres configured, state is lost on exit")
		mem := persistence.NewMemorySnapshotStore()
		snaps = mem
		source = persistence.MemoryLog{Sink: event.NewMemorySink()}
		writer = &persistence.StoreBatchWriter{Snapshots: mem}
	}

	// --- Recovery ---
	engine, stats, err := persistence.Recover(ctx, params, snaps, source, logger, opts...)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	// --- Read side ---
	fanout := projection.NewFanout(projectionChan, metrics, logger)
	history := projection.NewHistory(cfg.HistoryCapacity)
	var historyReader projection.HistoryReader = history
	if store != nil {
		// The in-memory history starts empty after a restart; Postgres does not.
		historyReader = store
	}
	projWorker := projection.NewProjectionWorker(store, history, fanout.Subscribe("projection", cfg.SubscriberBuffer), logger)
	hub := server.NewStreamHub(fanout.Subscribe("stream", cfg.SubscriberBuffer), metrics, logger)

	commands := ingestion.NewCommandService(engine)
	queries := query.NewQueryService(engine, historyReader, db, accounts, metrics)

	g, gctx := errgroup.WithContext(ctx)

	// --- NATS ---
	var submitter keeper.Submitter = keeper.EngineSubmitter(commands)
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		health.AddProbe("nats", func() error {
			if nc.Status() != nats.CONNECTED {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		})
		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return err
		}

		rawChan := make(chan ingestion.RawCommand, 4096)
		subscriber := ingestion.NewNATSSubscriber(js, rawChan, logger)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer subscriber.Stop()

		dispatcher := ingestion.NewDispatcher(engine, rawChan, metrics, logger)
		publisher := ingestion.NewOutboundPublisher(js, fanout.Subscribe("publisher", cfg.SubscriberBuffer), metrics, logger)
		g.Go(func() error { return dispatcher.Run(gctx) })
		g.Go(func() error { return publisher.Run(gctx) })
		submitter = keeper.NewNATSSubmitter(js)
	}

	// --- Keeper ---
	if keeperAddr != uuid.Nil {
		k := keeper.New(keeperAddr, params.Market, fanout.Subscribe("keeper", cfg.SubscriberBuffer), submitter, metrics, logger)
		if err := k.Seed(engine); err != nil {
			return fmt.Errorf("seed keeper: %w", err)
		}
		g.Go(func() error { return k.Run(gctx) })
	}

	// --- Transports ---
	srv, err := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		API:            server.NewAPI(commands, queries),
		Stream:         hub,
		HealthChecker:  health,
		Gatherer:       reg,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	persistWorker := persistence.NewPersistenceWorker(writer, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, logger)
	g.Go(func() error { return persistWorker.Run(gctx) })
	g.Go(func() error { return fanout.Run(gctx) })
	g.Go(func() error { return projWorker.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTPGateway(gctx) })

	health.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("sequence", stats.Sequence).
		Int("replayed", stats.Replayed).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Bool("postgres", db != nil).
		Bool("nats", cfg.NATSURL != "").
		Bool("keeper", keeperAddr != uuid.Nil).
		Msg("PerpClearing ready")

	err = g.Wait()
	health.SetReady(false)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker failed, shutting down")
		return err
	}
	logger.Info().Int64("sequence", engine.Sequence()).Msg("PerpClearing shutdown complete")
	return nil
}
