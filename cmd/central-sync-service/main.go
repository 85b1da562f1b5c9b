package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync_backend/config"
	"bitbucket.org/mmdatafocus/pos_sync_backend/fanout"
	"bitbucket.org/mmdatafocus/pos_sync_backend/middlewares"
	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"bitbucket.org/mmdatafocus/pos_sync_backend/possync"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	settings := config.LoadSyncSettings()

	registry, err := possync.NewDefaultRegistry()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "registry"}).Fatal(err)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen before the database is reachable; everything but /healthz answers 503 until ready.
	var handler atomic.Value
	boot := gin.New()
	boot.Use(middlewares.HealthMiddleware(func() bool { return false }))
	handler.Store(http.Handler(boot))

	srv := &http.Server{
		Addr: ":" + port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.Load().(http.Handler).ServeHTTP(w, r)
		}),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(db); err != nil {
			config.LogError(logger, "main", "MigrateTable", "auto migrate", nil, err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	hub := fanout.NewHub(fanout.DefaultHubConfig(), logger)
	publishers := fanout.Multi{}

	var locker possync.KeyLocker = possync.NewLocalKeyLocker()
	if config.ConnectRedisWithRetry(sigCtx) {
		locker = possync.NewRedisKeyLocker(config.GetRedisLock(), settings.LockTTL)
		relay := fanout.NewRedisRelay(config.GetRedisDB(), settings.FanoutChannel, hub, logger)
		go relay.Run(sigCtx)
		publishers = append(publishers, relay)
	} else {
		publishers = append(publishers, hub)
	}

	var exporter *fanout.PubSubExporter
	if settings.PubSubTopic != "" {
		topic, err := config.SyncEventTopic(sigCtx, settings.PubSubTopic)
		if err != nil {
			config.LogError(logger, "main", "SyncEventTopic", "pubsub export disabled", settings.PubSubTopic, err)
		} else {
			exporter = fanout.NewPubSubExporter(topic)
			publishers = append(publishers, exporter)
		}
	}

	recorder := possync.NewCentralRecorder(publishers, logger)
	if err := db.Use(possync.NewCapturePlugin(registry, recorder)); err != nil {
		logger.WithFields(logrus.Fields{"field": "capture"}).Fatal(err)
	}

	receiver := possync.NewReceiver(db, registry, locker, publishers, logger)
	central := possync.NewCentralHandlers(db, registry, receiver, hub, logger)

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.HealthMiddleware(func() bool { return config.GetDB() != nil }))
	r.Use(middlewares.Cors())
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	central.Register(r.Group("/", middlewares.AuthMiddleware()))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	handler.Store(http.Handler(r))
	logger.WithFields(logrus.Fields{"field": "server", "port": port}).Info("central sync service ready")

	select {
	case <-sigCtx.Done():
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if exporter != nil {
			exporter.Stop()
		}
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}
