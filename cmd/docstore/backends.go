package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/config"
	dbPostgres "github.com/kailas-cloud/docstore/internal/db/postgres"
	dbQdrant "github.com/kailas-cloud/docstore/internal/db/qdrant"
	dbRedis "github.com/kailas-cloud/docstore/internal/db/redis"
	"github.com/kailas-cloud/docstore/internal/domain/field"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
	"github.com/kailas-cloud/docstore/internal/repository/memory"
	pgrepo "github.com/kailas-cloud/docstore/internal/repository/postgres"
	qdrantrepo "github.com/kailas-cloud/docstore/internal/repository/qdrant"
	redisrepo "github.com/kailas-cloud/docstore/internal/repository/redis"
	documentuc "github.com/kailas-cloud/docstore/internal/usecase/document"
	healthuc "github.com/kailas-cloud/docstore/internal/usecase/health"
	labeluc "github.com/kailas-cloud/docstore/internal/usecase/label"
)

// driver is one opened backend. labels is nil for drivers that keep no labels.
type driver struct {
	docs   documentuc.Backend
	labels labeluc.Backend
	pinger healthuc.Pinger
}

// backends opens each configured driver once, so a driver serving both
// documents and labels shares its connection.
type backends struct {
	cfg     *config.Config
	metric  similarity.Metric
	fields  []field.Field
	logger  *zap.Logger
	opened  map[string]*driver
	redis   *dbRedis.Store
	closers []func()
}

func newBackends(cfg *config.Config, logger *zap.Logger) (*backends, error) {
	metric, err := similarity.ParseMetric(cfg.Store.Similarity)
	if err != nil {
		return nil, err
	}
	fields := make([]field.Field, len(cfg.Store.Fields))
	for i, fc := range cfg.Store.Fields {
		f, err := field.New(fc.Name, field.Type(fc.Type))
		if err != nil {
			return nil, fmt.Errorf("store.fields[%d]: %w", i, err)
		}
		fields[i] = f
	}
	return &backends{
		cfg:    cfg,
		metric: metric,
		fields: fields,
		logger: logger,
		opened: make(map[string]*driver),
	}, nil
}

// open returns the driver by name, connecting on first use.
func (b *backends) open(ctx context.Context, name string) (*driver, error) {
	if d, ok := b.opened[name]; ok {
		return d, nil
	}

	dim := b.cfg.Store.EmbeddingDim
	var d *driver
	switch name {
	case config.DriverMemory:
		store := memory.New(b.metric, dim)
		d = &driver{docs: store, labels: store, pinger: store}

	case config.DriverRedis:
		store, err := b.redisStore(ctx)
		if err != nil {
			return nil, err
		}
		repo := redisrepo.New(store, b.metric, dim, b.fields, b.logger).
			WithHNSW(redisrepo.HNSWConfig{
				M:           b.cfg.Redis.HNSWM,
				EFConstruct: b.cfg.Redis.HNSWEFConstruct,
			}).
			WithKeyPrefix(b.cfg.Redis.KeyPrefix)
		d = &driver{docs: repo, labels: repo, pinger: repo}

	case config.DriverPostgres:
		pool, err := dbPostgres.NewPool(ctx, dbPostgres.Config{
			DSN:             b.cfg.Postgres.DSN,
			MaxConns:        b.cfg.Postgres.MaxConns,
			CreateExtension: b.cfg.Postgres.CreateExtension,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		if err := dbPostgres.WaitForReady(ctx, pool, b.readiness()); err != nil {
			return nil, fmt.Errorf("postgres not ready: %w", err)
		}
		repo := pgrepo.New(pool, b.metric, dim, b.logger).WithTablePrefix(b.cfg.Postgres.TablePrefix)
		d = &driver{docs: repo, labels: repo, pinger: repo}

	case config.DriverQdrant:
		client, err := dbQdrant.NewClient(ctx, dbQdrant.Config{
			Host:   b.cfg.Qdrant.Host,
			Port:   b.cfg.Qdrant.Port,
			APIKey: b.cfg.Qdrant.APIKey,
			UseTLS: b.cfg.Qdrant.UseTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("connect qdrant: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		repo := qdrantrepo.New(client, b.metric, dim, b.fields, b.logger).
			WithCollectionPrefix(b.cfg.Qdrant.CollectionPrefix)
		d = &driver{docs: repo, pinger: repo}

	default:
		return nil, fmt.Errorf("unknown store driver %q", name)
	}

	b.opened[name] = d
	b.logger.Info("Store driver opened", zap.String("driver", name))
	return d, nil
}

// redisStore connects to Redis once. The embedding cache shares the connection.
func (b *backends) redisStore(ctx context.Context) (*dbRedis.Store, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    b.cfg.Redis.Addrs,
		Username: b.cfg.Redis.Username,
		Password: b.cfg.Redis.Password,
		DB:       b.cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	b.closers = append(b.closers, store.Close)
	if err := store.WaitForReady(ctx, b.readiness()); err != nil {
		return nil, fmt.Errorf("redis not ready: %w", err)
	}
	b.redis = store
	return store, nil
}

func (b *backends) readiness() time.Duration {
	return time.Duration(b.cfg.Store.ReadinessTimeout) * time.Second
}

// registerHealth adds one check per opened driver.
func (b *backends) registerHealth(h *healthuc.Service) *healthuc.Service {
	for _, name := range []string{config.DriverMemory, config.DriverRedis, config.DriverPostgres, config.DriverQdrant} {
		if d, ok := b.opened[name]; ok {
			h.WithStore(name, d.pinger)
		}
	}
	return h
}

// Close releases connections in reverse opening order.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}
