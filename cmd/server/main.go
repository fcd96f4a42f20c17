package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/ecolog-backend/internal/clock"
	"github.com/ignatzorin/ecolog-backend/internal/config"
	"github.com/ignatzorin/ecolog-backend/internal/db"
	"github.com/ignatzorin/ecolog-backend/internal/geocode"
	httpHandlers "github.com/ignatzorin/ecolog-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/ecolog-backend/internal/http/router"
	"github.com/ignatzorin/ecolog-backend/internal/logger"
	"github.com/ignatzorin/ecolog-backend/internal/messaging"
	"github.com/ignatzorin/ecolog-backend/internal/repository"
	"github.com/ignatzorin/ecolog-backend/internal/service"
	"github.com/ignatzorin/ecolog-backend/internal/timestamp"
	"github.com/ignatzorin/ecolog-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Env}); err != nil {
			logger.Log.WithError(err).Warn("main: Sentry не инициализирован")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Хранилище документов.
	docs, closeDocs, err := openDocuments(ctx, cfg)
	if err != nil {
		log.Fatalf("main: ошибка подключения к хранилищу: %v", err)
	}
	defer closeDocs()

	clk := clock.Real{}

	// Сервисы.
	store := service.NewReportStore(docs, service.ReportStoreOptions{
		Clock:             clk,
		Normalizer:        timestamp.Default,
		UndoWindow:        cfg.UndoWindow,
		MaxThumbnailBytes: cfg.MaxThumbnailKB * 1024,
	})
	if err := store.Load(ctx); err != nil {
		log.Fatalf("main: не удалось загрузить обращения: %v", err)
	}
	defer store.Close()

	queries := service.NewQueryService(store, clk)
	sessions := service.NewSessionManager(cfg.SessionSecret, cfg.SessionTTL)
	memo := service.NewCacheService(ctx)

	nominatim := geocode.NewNominatimClient(geocode.NominatimConfig{
		BaseURL:    cfg.GeocodeBaseURL,
		UserAgent:  cfg.GeocodeAgent,
		Timeout:    cfg.GeocodeTimeout,
		RatePerSec: cfg.GeocodeRate,
	})
	resolver := geocode.NewResolver(geocode.NewCache(docs, clk), nominatim, memo)
	pickers := geocode.NewPickerRegistry(resolver)

	// Вебсокеты.
	hub := ws.NewHub(ctx)
	go hub.Run()
	defer store.Subscribe(hub.PublishReportEvent)()

	// Брокер (опционально).
	if cfg.RabbitMQURL != "" {
		publisher, err := messaging.NewPublisher(ctx, cfg.RabbitMQURL)
		if err != nil {
			logger.Log.WithError(err).Warn("main: RabbitMQ недоступен, события публикуются только в WebSocket")
		} else {
			defer publisher.Close()
			defer store.Subscribe(publisher.PublishReportEvent)()
		}
	}

	// HTTP хэндлеры.
	sessionHandler := httpHandlers.NewSessionHandler(sessions, store)
	reportHandler := httpHandlers.NewReportHandler(store, pickers)
	summaryHandler := httpHandlers.NewSummaryHandler(queries)
	geocodeHandler := httpHandlers.NewGeocodeHandler(resolver, pickers, memo)
	wsHandler := httpHandlers.NewWSHandler(hub, cfg.AllowedOrigins)
	healthHandler := httpHandlers.NewHealthHandler(docs)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, sessions, sessionHandler, reportHandler, summaryHandler, geocodeHandler, wsHandler, healthHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("main: ошибка остановки http сервера")
		}
	}()

	logger.Log.WithField("port", cfg.HTTPPort).WithField("storage", cfg.StorageDriver).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log.WithError(err).Error("main: сервер завершился с ошибкой")
	}
}

// openDocuments открывает хранилище по STORAGE_DRIVER и применяет миграции.
func openDocuments(ctx context.Context, cfg *config.Config) (repository.DocumentStore, func(), error) {
	var (
		conn *sqlx.DB
		err  error
	)

	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Log.Warn("main: STORAGE_DRIVER=memory, данные не переживут перезапуск")
		return repository.NewMemoryDocumentRepository(), func() {}, nil
	case config.StoragePostgres:
		conn, err = db.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		conn, err = db.NewSQLite(ctx, cfg.SQLitePath)
	}
	if err != nil {
		return nil, nil, err
	}

	var migrations fs.FS = db.Migrations()
	if cfg.MigrationsPath != "" {
		migrations = os.DirFS(cfg.MigrationsPath)
	}
	if err := db.RunMigrations(ctx, conn, migrations); err != nil {
		safeClose(conn)
		return nil, nil, err
	}

	return repository.NewDocumentRepository(conn), func() { safeClose(conn) }, nil
}

// safeClose закрывает соединение с базой.
func safeClose(conn *sqlx.DB) {
	if err := conn.Close(); err != nil {
		logger.Log.WithError(err).Error("main: ошибка закрытия базы")
	}
}
