package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"phonesync/api/internal/app"
	"phonesync/api/internal/archive"
	"phonesync/api/internal/browser"
	"phonesync/api/internal/config"
	"phonesync/api/internal/docsync"
	"phonesync/api/internal/email"
	"phonesync/api/internal/export"
	"phonesync/api/internal/gate"
	"phonesync/api/internal/gitrepo"
	"phonesync/api/internal/metrics"
	"phonesync/api/internal/notify"
	"phonesync/api/internal/search"
	"phonesync/api/internal/session"
	"phonesync/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := newLogger(cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("phonesync api stopped", zap.Error(err))
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var cleanup closers
	defer cleanup.run()

	m := metrics.New()
	flag := &gate.Flag{}
	signals := []gate.Signal{flag}
	marks := []app.GenerationMark{flag}

	var db *sql.DB
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		var err error
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup.add(func() { _ = db.Close() })
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger.Named("migrate")); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}

	var redisStore *store.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rs, err := store.NewRedisStore(cfg.RedisURL, cfg.ChatID)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		redisStore = rs.WithGenerationTTL(cfg.GenerationTTL)
		cleanup.add(func() { _ = redisStore.Close() })
		signals = append(signals, redisStore)
		marks = append(marks, redisStore)
	}

	var (
		chatStore docsync.ChatStore
		pinger    app.Pinger
		recorders []docsync.Recorder
		history   app.History
		versions  app.Versions
	)

	switch cfg.ChatStore {
	case config.StoreMemory:
		mem := store.NewMemory("")
		chatStore, pinger = mem, mem
	case config.StoreRedis:
		if redisStore == nil {
			return errors.New("PHONESYNC_CHAT_STORE=redis requires REDIS_URL")
		}
		chatStore, pinger = redisStore, redisStore
	case config.StorePostgres:
		if db == nil {
			return errors.New("PHONESYNC_CHAT_STORE=postgres requires DATABASE_URL")
		}
		pg := store.NewPostgresStore(db, cfg.ChatID)
		chatStore, pinger = pg, pg
		recorders = append(recorders, pg)
		history = app.RevisionHistory{Log: pg}
	case config.StoreBrowser:
		page, err := browser.Connect(ctx, cfg.BrowserURL, cfg.BrowserMatch, logger.Named("browser"))
		if err != nil {
			return err
		}
		cleanup.add(page.Close)
		bs := browser.NewStore(page, browser.Scripts{
			Read:  cfg.BrowserRead,
			Write: cfg.BrowserWrite,
			Busy:  cfg.BrowserBusy,
		}, 0)
		chatStore = bs
		signals = append(signals, bs)
	default:
		return fmt.Errorf("unknown chat store %q", cfg.ChatStore)
	}

	if cfg.HistoryDir != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			return fmt.Errorf("failed to create history dir: %w", err)
		}
		repo := gitrepo.New(cfg.HistoryDir)
		recorders = append(recorders, repo.Recorder(cfg.ChatID))
		gitHistory := app.GitHistory{Log: repo, ChatID: cfg.ChatID}
		history, versions = gitHistory, gitHistory
	}

	if cfg.MinioEndpoint != "" {
		objects, err := archive.NewMinio(ctx, archive.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return fmt.Errorf("object storage: %w", err)
		}
		snapshots := archive.New(objects, cfg.ChatID, logger.Named("archive"))
		recorders = append(recorders, snapshots)
		if history == nil {
			history = app.ArchiveHistory{Log: snapshots}
		}
		if versions == nil {
			versions = app.ArchiveHistory{Log: snapshots}
		}
	}

	var (
		fallback search.Backend = search.NewMemory()
		pgfts    *search.PgFTS
		meili    search.Backend
	)
	if db != nil {
		pgfts = search.NewPgFTS(db)
		fallback = pgfts
	}
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		client := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
		cleanup.add(client.Close)
		meili = client
	}
	searchService := search.NewService(cfg.ChatID, meili, fallback, logger.Named("search"))
	cleanup.add(searchService.Wait)
	recorders = append(recorders, searchService)

	revocations := session.Revocations(session.NewMemory())
	if redisStore != nil {
		revocations = session.NewRedisStore(redisStore.Client())
	}

	notifiers := notify.Fanout{notify.NewLog(logger.Named("toast"))}
	if cfg.AlertsEnabled() {
		alerts := email.NewAlerts(email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}), email.AlertOptions{
			To:          cfg.AlertTo,
			MinInterval: cfg.AlertInterval,
			Logger:      logger.Named("alerts"),
		})
		cleanup.add(alerts.Close)
		notifiers = append(notifiers, alerts)
	}

	hub := notify.NewHub(notify.HubOptions{
		Recent:      20,
		AllowOrigin: allowOrigin(cfg.CORSOrigin),
		Logger:      logger.Named("hub"),
	})
	cleanup.add(hub.Close)
	notifiers = append(notifiers, hub)

	generation := gate.New(gate.Options{
		PollInterval: cfg.PollInterval,
		Logger:       logger.Named("gate"),
		OnChange:     m.GateChanged,
	}, signals...)

	sync := docsync.New(chatStore, generation, docsync.Options{
		Logger:        logger.Named("docsync"),
		Notifier:      notifiers,
		Recorders:     recorders,
		Metrics:       m,
		DrainInterval: cfg.DrainInterval,
		QueueMax:      cfg.QueueMax,
		QueueHooks:    m.QueueHooks(),
	})
	cleanup.add(sync.Close)

	service := app.NewService(app.Deps{
		Sync:        sync,
		Gate:        generation,
		Marks:       marks,
		Store:       pinger,
		History:     history,
		Search:      searchService,
		Export:      export.NewService(app.ExportSource{Sync: sync, Versions: versions}, nil),
		WaitTimeout: cfg.WaitTimeout,
		Logger:      logger.Named("app"),
	})
	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		CORSOrigin:    cfg.CORSOrigin,
		TokenSecret:   cfg.TokenSecret,
		InsertRate:    cfg.InsertRate,
		InsertBurst:   cfg.InsertBurst,
		Revocations:   revocations,
		Notifications: hub,
		Metrics:       m.Handler(),
		Logger:        logger.Named("http"),
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if !cfg.AuthEnabled() {
		logger.Warn("PHONESYNC_TOKEN_SECRET is empty, API authentication is disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("phonesync api listening",
			zap.String("addr", cfg.Addr),
			zap.String("chat_store", cfg.ChatStore),
			zap.String("chat_id", cfg.ChatID),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		return nil
	})
	if meili != nil && pgfts != nil {
		g.Go(func() error {
			if err := searchService.Reindex(gctx, pgfts.LoadAllRecords); err != nil {
				logger.Warn("initial search reindex failed", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func allowOrigin(corsOrigin string) func(string) bool {
	if corsOrigin == "" || corsOrigin == "*" {
		return nil
	}
	return func(origin string) bool {
		return origin == corsOrigin
	}
}
