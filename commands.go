package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"board-room/actions"
	"board-room/activity"
	"board-room/api"
	"board-room/config"
	"board-room/positioning"
	"board-room/room"
	"board-room/storage"
	"board-room/subscription"
)

const shutdownTimeout = 10 * time.Second

// gateway is everything the service needs from a primary store.
type gateway interface {
	actions.Store
	actions.ChatStore
	room.Storage
	room.SnapshotSource
	positioning.Store
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "boardroom",
		Short:         "Real-time collaboration rooms for kanban boards",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newProvisionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept websocket connections and run board rooms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				return errors.New("missing database dsn: set DATABASE_DSN or --dsn")
			}
			ctx := cmd.Context()
			db, err := storage.OpenPostgres(ctx, dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := storage.Migrate(ctx, db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", os.Getenv("DATABASE_DSN"), "Postgres connection string")
	return cmd
}

func newProvisionCmd() *cobra.Command {
	var connStr, chatTable, activityQueue string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the Azure chat table and activity queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if connStr == "" {
				return errors.New("missing STORAGE_CONNECTION_STRING")
			}
			ctx := cmd.Context()
			if chatTable != "" {
				if err := storage.EnsureChatTable(ctx, connStr, chatTable); err != nil {
					return fmt.Errorf("create table %s: %w", chatTable, err)
				}
				log.WithField("table", chatTable).Info("chat table ready")
			}
			if activityQueue != "" {
				q, err := activity.NewQueueClient(connStr, activityQueue)
				if err != nil {
					return err
				}
				if err := activity.EnsureQueue(ctx, q); err != nil {
					return fmt.Errorf("create queue %s: %w", activityQueue, err)
				}
				log.WithField("queue", activityQueue).Info("activity queue ready")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&connStr, "connection", os.Getenv("STORAGE_CONNECTION_STRING"), "Azure storage connection string")
	cmd.Flags().StringVar(&chatTable, "chat-table", os.Getenv("CHAT_TABLE"), "chat archive table name")
	cmd.Flags().StringVar(&activityQueue, "activity-queue", os.Getenv("ACTIVITY_QUEUE"), "activity queue name")
	return cmd
}

// corsOrigins follows ALLOWED_ORIGINS and stays open when it is unset.
func corsOrigins(cfg config.Config) []string {
	if len(cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.AllowedOrigins
}

func newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
		log.SetFormatter(&log.JSONFormatter{})
	}
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
		log.SetLevel(log.DebugLevel)
	}
	return logger
}

func openGateway(ctx context.Context, cfg config.Config) (gateway, func(), error) {
	if cfg.StorageDriver != config.DriverPostgres {
		return storage.NewMemory(), func() {}, nil
	}
	db, err := storage.OpenPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewPostgres(db), func() { closeDB(db) }, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("close database")
	}
}

func newVerifier(cfg config.Config) (room.Verifier, error) {
	if cfg.JWTSecret != "" {
		return api.NewSecretAuth([]byte(cfg.JWTSecret)), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/", cfg.JWKSCacheTTL), nil
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	store, closeStore, err := openGateway(parent, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	var chat actions.ChatStore = store
	if cfg.ChatTable != "" {
		archive, err := storage.NewChatArchive(cfg.StorageConnection, cfg.ChatTable, store)
		if err != nil {
			return fmt.Errorf("chat archive: %w", err)
		}
		chat = archive
	}

	var (
		snapshots   room.SnapshotSource = store
		invalidator room.Invalidator
		rc          *redis.Client
	)
	if opts, ok := cfg.RedisOptions(); ok {
		rc = redis.NewClient(opts)
		defer rc.Close()
		cache := storage.NewCache(store, rc, cfg.SnapshotTTL)
		snapshots, invalidator = cache, cache
	}

	var publisher room.ActivityPublisher
	if cfg.ActivityQueue != "" {
		q, err := activity.NewQueueClient(cfg.StorageConnection, cfg.ActivityQueue)
		if err != nil {
			return fmt.Errorf("activity queue: %w", err)
		}
		p := activity.NewPublisher(q, activity.Options{
			Workers:        cfg.ActivityWorkers,
			Buffer:         cfg.ActivityBuffer,
			EnqueueTimeout: cfg.ActivityEnqueueTimeout,
			HandoffTimeout: cfg.ActivityHandoffTimeout,
		}, logger)
		defer p.Close()
		publisher = p
	}

	hub := room.NewHub(room.Options{
		Storage:          store,
		Snapshots:        snapshots,
		Verifier:         verifier,
		Registry:         actions.Default(actions.Deps{Store: store, Engine: positioning.New(store, nil), Chat: chat}),
		Invalidator:      invalidator,
		Activity:         publisher,
		Logger:           logger,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ActionTimeout:    cfg.ActionTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		SendBuffer:       cfg.SendBuffer,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: corsOrigins(cfg),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, hub, api.Options{ServiceToken: cfg.ServiceToken, OriginPatterns: cfg.AllowedOrigins}, logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("listening on %s, storage: %s", cfg.ListenAddr, cfg.StorageDriver)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if rc != nil {
		g.Go(func() error {
			subscription.SubscribeBoardEvents(gctx, logger, rc, cfg.BoardEventsChannel, hub)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hub.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})
	return g.Wait()
}
