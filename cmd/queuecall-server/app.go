package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/persistorai/queuecall/internal/api"
	"github.com/persistorai/queuecall/internal/clock"
	"github.com/persistorai/queuecall/internal/config"
	"github.com/persistorai/queuecall/internal/counter"
	"github.com/persistorai/queuecall/internal/db"
	"github.com/persistorai/queuecall/internal/db/migrations"
	"github.com/persistorai/queuecall/internal/dbpool"
	"github.com/persistorai/queuecall/internal/fanout"
	"github.com/persistorai/queuecall/internal/history"
	"github.com/persistorai/queuecall/internal/lease"
	"github.com/persistorai/queuecall/internal/middleware"
	"github.com/persistorai/queuecall/internal/service"
	"github.com/persistorai/queuecall/internal/session"
	"github.com/persistorai/queuecall/internal/store"
	"github.com/persistorai/queuecall/internal/ws"
)

const (
	startupTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// backend is the selected persistence layer. pool is nil on the in-memory
// store.
type backend struct {
	store store.Store
	pool  *dbpool.Pool
}

func (b *backend) close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*backend, error) {
	if !cfg.UsesDatabase() {
		mem := store.NewMemory()
		if cfg.SeedFile != "" {
			if err := store.LoadSeedFile(mem, cfg.SeedFile); err != nil {
				return nil, fmt.Errorf("loading seed: %w", err)
			}
			log.WithField("file", cfg.SeedFile).Info("loaded seed data")
		} else {
			log.Warn("no DATABASE_URL or SEED_FILE set, starting with an empty in-memory store")
		}

		return &backend{store: mem}, nil
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	pool, err := dbpool.NewPool(startCtx, cfg.DatabaseURL.Value())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.RunMigrations(startCtx, pool, log, migrations.FS); err != nil {
		pool.Close()
		return nil, err
	}

	return &backend{store: store.NewPostgres(pool), pool: pool}, nil
}

// run serves until ctx is cancelled. Background work runs on a separate
// context that outlives ctx until the WebSocket drain and HTTP shutdown
// have finished.
func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	var bg errgroup.Group

	reg := session.NewRegistry()
	hist := history.NewBuffer(cfg.HistorySize)
	fan := fanout.New(reg, hist, be.store, log)

	mgr := counter.NewManager(be.store, reg, hist, fan, clock.Real(), log, counter.Config{
		StaffReleaseGrace: cfg.StaffReleaseGrace,
		FeedbackCooldown:  cfg.FeedbackCooldown,
	})
	defer mgr.Close()

	if cfg.RedisURL != "" {
		relay, err := fanout.NewRedisRelay(cfg.RedisURL.Value(), log)
		if err != nil {
			return err
		}
		defer relay.Close() //nolint:errcheck // shutdown path

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = relay.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}

		mgr.SetLease(lease.NewRedis(relay.Client(), relay.Instance(), cfg.CounterLeaseTTL))
		fan.SetRelay(relay)
		bg.Go(func() error {
			if err := relay.Run(appCtx, mgr.ApplyRemote); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("change relay stopped")
			}
			return nil
		})
	}

	if be.pool != nil {
		if err := db.NewNotifyBridge(log, be.pool, mgr).Start(appCtx); err != nil {
			return err
		}
	}

	staff := middleware.NewCachedStaffLookup(appCtx, be.store)

	ratings := service.NewRatingWorker(be.store, log, 0)
	bg.Go(func() error {
		ratings.Run(appCtx)
		return nil
	})

	tickets := service.NewTicketService(be.store, mgr, ratings, clock.Real(), log)

	hub := ws.NewHub(log, ws.NewGateway(mgr, fan, staff, log), ws.HubConfig{
		MaxConnections: cfg.WSMaxConnections,
		MaxPerIP:       cfg.WSMaxPerIP,
		CommandRate:    cfg.CommandRate,
		CommandBurst:   cfg.CommandBurst,
		TokenRefresh:   cfg.StaffTokenRefresh,
	})
	go hub.Run(appCtx)

	router := api.NewRouter(appCtx, &api.RouterDeps{
		Log:         log,
		Pool:        be.pool,
		Hub:         hub,
		Agencies:    be.store,
		Tickets:     tickets,
		StaffLookup: staff,
		CORSOrigins: cfg.CORSOrigins,
		Version:     config.Version,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	// Displays get a shutdown frame before their connections close.
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("http shutdown incomplete")
	}

	appCancel()

	return bg.Wait()
}
