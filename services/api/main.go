package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/dealhub/internal/blob"
	"github.com/dealhub/internal/config"
	"github.com/dealhub/internal/handler"
	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/push"
	"github.com/dealhub/internal/repository"
	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/service"
	"github.com/dealhub/internal/startup"
	"github.com/dealhub/internal/storage"
	"github.com/dealhub/internal/storage/devstore"
	redisstorage "github.com/dealhub/internal/storage/redis"
	"github.com/dealhub/internal/ws"
	"github.com/dealhub/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "apply PostgreSQL migrations and exit")
	dev := flag.Bool("dev", false, "in-process Redis (and embedded PostgreSQL for storage.backend=postgres)")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Infof("starting API service (storage=%s)", cfg.StorageBackend)

	var rdb *redisstorage.Client
	if *dev {
		ds, err := devstore.Start()
		if err != nil {
			logger.Errorf("devstore: %v", err)
			os.Exit(1)
		}
		defer ds.Close()
		rdb = ds.Client
	} else {
		rdb = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "api: ")
		defer rdb.Close()
	}
	bus := rdb.Bus()

	var profileStore storage.ProfileStore = rdb.Profiles()
	var conversationStore storage.ConversationStore = rdb.Conversations()
	if cfg.StorageBackend == "postgres" {
		if *dev {
			db, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := db.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}
		pool, err := openPostgres(cfg)
		if err != nil {
			logger.Errorf("postgres: %v", err)
			os.Exit(1)
		}
		defer pool.Close()
		if *migrate {
			return
		}
		profileStore = repository.NewProfileRepository(pool)
		conversationStore = repository.NewConversationRepository(pool)
	} else if *migrate {
		logger.Info("storage.backend=redis: nothing to migrate")
		return
	}

	var pusher *push.Pusher
	if cfg.Push.Enabled {
		keys, err := push.EnsureVAPIDKeys(cfg.Push.VAPIDFile)
		if err != nil {
			logger.Errorf("push: VAPID keys: %v (push disabled)", err)
		}
		pusher = push.New(rdb.Raw(), keys, cfg.Push.Subject)
	}

	var notifPusher service.Pusher
	if pusher != nil {
		notifPusher = pusher
	}
	notifications := service.NewNotifications(rdb.Notifications(cfg.Notifications.InboxCapacity), bus, notifPusher, cfg.Notifications.RecentLimit)
	engine := reputation.NewEngine(profileStore, notifications).WithBus(bus)
	rep := reputation.NewAsync(engine, cfg.Reputation.Workers, cfg.Reputation.QueueSize)

	svc := ws.Services{
		Channels:      service.NewChannels(rdb.Messages(), bus, rep, notifications, cfg.Channels),
		Threads:       service.NewThreads(rdb.Messages(), rdb.Threads(), bus, rep, notifications),
		Direct:        service.NewDirect(conversationStore, bus, rep, notifications),
		Notifications: notifications,
		Presence:      service.NewPresence(rdb.Presence(), bus, cfg.Presence.TypingTTL),
		Profiles:      service.NewProfiles(profileStore, bus),
		Unread:        service.NewUnread(rdb.Unread(), rdb.Messages(), cfg.Channels),
	}
	reactions := service.NewReactions(rdb.Messages(), rdb.Threads(), rdb.Reactions(), bus, rep, notifications)
	hub := ws.NewHub(svc, cfg.MaxWSConnections)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		logger.Errorf("blob store: %v", err)
		os.Exit(1)
	}

	h := handler.Handlers{
		Messages:      handler.NewMessageHandler(svc.Channels, svc.Profiles, svc.Unread),
		Threads:       handler.NewThreadHandler(svc.Threads, reactions, svc.Profiles),
		Direct:        handler.NewDirectHandler(svc.Direct, svc.Profiles),
		Notifications: handler.NewNotificationHandler(notifications),
		Profiles:      handler.NewProfileHandler(svc.Profiles, svc.Presence),
		Uploads:       handler.NewUploadHandler(store, blob.LimitsFrom(cfg.Blob)),
		Config:        handler.NewConfigHandler(cfg, pusher),
		Reputation:    handler.NewReputationHandler(engine),
		WS:            handler.NewWSHandler(hub, svc.Profiles, cfg.CORSAllowedOrigins),
	}
	if pusher != nil {
		h.Push = handler.NewPushHandler(pusher)
	}
	router := handler.NewRouter(h, handler.RouterOptions{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		InternalToken:      cfg.InternalToken,
		RateLimitRPS:       cfg.RateLimit.RPS,
		RateLimitBurst:     cfg.RateLimit.Burst,
		Metrics:            cfg.MetricsEnabled,
		Ensure:             handler.EnsureProfiles(svc.Profiles),
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		logger.Info("hub stopped")
		return nil
	})
	g.Go(func() error {
		return svc.Presence.RunReaper(gctx, cfg.Presence.ReaperCron, cfg.Presence.StaleAfter)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
		logger.Info("server stopped accepting connections")
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("api: %v", err)
	}
	// очередь репутации дорабатывает до конца, затем ждём фоновые пуши
	rep.Close()
	notifications.WaitPush()
	logger.Info("api stopped")
}

func openPostgres(cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "api: ")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected, migrations applied")
	return pool, nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "dealhub"
		password = "dealhub_secret"
		database = "dealhub"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
