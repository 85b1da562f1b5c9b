package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
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

const defaultListenAddr = "127.0.0.1:8090"

func main() {
	addr := strings.TrimSpace(os.Getenv("EDGE_LISTEN_ADDR"))
	if addr == "" {
		addr = defaultListenAddr
	}

	logger := config.GetLogger()
	settings := config.LoadSyncSettings()

	registry, err := possync.NewDefaultRegistry()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "registry"}).Fatal(err)
	}

	db, err := config.OpenEdgeDatabase(settings.EdgeDBPath)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "database", "path": settings.EdgeDBPath}).Fatal(err)
	}
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if err := models.MigrateTable(db); err != nil {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err)
	}

	// Local writes through this handle land in the changelog.
	if err := db.Use(possync.NewCapturePlugin(registry, possync.NewEdgeRecorder(logger))); err != nil {
		logger.WithFields(logrus.Fields{"field": "capture"}).Fatal(err)
	}

	client, err := possync.NewHTTPClient(settings.CentralAPIURL, settings.HTTPTimeout, settings.CentralRatePerSecond)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "central"}).Fatal(err)
	}

	creds := possync.NewCredentialStore()
	subscriber, err := fanout.NewSubscriber(settings.CentralAPIURL, creds.Token, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "fanout"}).Fatal(err)
	}
	locker := possync.NewLocalKeyLocker()
	listener := possync.NewListener(db, registry, client, creds, locker, logger, settings.HTTPTimeout)
	reconciler := possync.NewReconciler(db, registry, client, creds, locker, logger, settings.ReconcileConcurrency, settings.HTTPTimeout)
	session := possync.NewEdgeSession(creds, reconciler, listener, subscriber, logger)
	dispatcher := possync.NewDispatcher(db, client, creds, logger, possync.DispatcherOptions{
		Interval:    settings.DispatchInterval,
		Timeout:     settings.HTTPTimeout,
		MaxAttempts: settings.MaxAttempts,
	})

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		dispatcher.Run(sigCtx)
	}()
	go func() {
		defer workers.Done()
		subscriber.Run(sigCtx)
	}()

	if token := strings.TrimSpace(os.Getenv("SYNC_TOKEN")); token != "" {
		if _, err := session.Start(sigCtx, token); err != nil {
			config.LogError(logger, "main", "EdgeSession.Start", "SYNC_TOKEN rejected", nil, err)
		}
	}

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.HealthMiddleware(nil))
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	possync.NewEdgeHandlers(db, session, dispatcher, creds).Register(r)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{"field": "server", "addr": addr}).Info("edge sync agent ready")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
		stopSignals()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	// The dispatcher finishes its in-flight push before Run returns.
	workers.Wait()
	session.Wait()
}
