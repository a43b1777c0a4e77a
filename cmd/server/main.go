package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"live-stream-manager/internal/bridge"
	"live-stream-manager/internal/fabric"
	"live-stream-manager/internal/modal"
	"live-stream-manager/internal/platform/config"
	"live-stream-manager/internal/platform/logger"
	"live-stream-manager/internal/platform/metrics"
	"live-stream-manager/internal/poller"
	"live-stream-manager/internal/scheduler"
	"live-stream-manager/internal/streams"

	"github.com/go-chi/chi/v5"
)

const (
	shutdownTimeout = 10 * time.Second
	fabricTimeout   = 30 * time.Second
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	fabricURL := config.GetEnv("FABRIC_URL", "http://localhost:8008")
	fabricToken := config.GetEnv("FABRIC_TOKEN", "")
	siteLibraryID := config.GetEnv("SITE_LIBRARY_ID", "")
	siteObjectID := config.GetEnv("SITE_OBJECT_ID", "")
	streamsFile := config.GetEnv("STREAMS_FILE", "")
	statusInterval := config.GetEnvDuration("STATUS_INTERVAL", poller.DefaultStatusInterval)
	previewsEnabled := config.GetEnvBool("PREVIEWS_ENABLED", true)
	allowedOrigins := config.GetEnvList("FRAME_ALLOWED_ORIGINS")

	log := logger.New(logLevel, logFormat)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	client := fabric.NewHTTPClient(fabricURL, fabricToken, &http.Client{Timeout: fabricTimeout})
	met := metrics.New()
	repo := streams.NewInMemoryRepository()
	svc := streams.NewService(repo, client, log, streams.ServiceConfig{
		SiteLibraryID: siteLibraryID,
		SiteObjectID:  siteObjectID,
		Metrics:       met,
	})

	var seed []*streams.Stream
	if streamsFile != "" {
		var err error
		if seed, err = streams.LoadSeedFile(streamsFile); err != nil {
			log.Error("load streams file", "path", streamsFile, "error", err)
			os.Exit(1)
		}
	}
	svc.Load(ctx, seed)

	clock := scheduler.RealClock{}
	status := poller.NewStatusPoller(svc, clock, statusInterval, log)
	previews := poller.NewPreviewRefresher(repo, svc, clock, log)
	previews.SetEnabled(previewsEnabled)

	checkOrigin := bridge.OriginChecker(allowedOrigins)
	ctrl := modal.NewController()
	h := streams.NewHandler(svc, ctrl, log, met, checkOrigin)
	frames := bridge.NewServer(bridge.ServerConfig{
		Executor:    client,
		Region:      client,
		Log:         log,
		Metrics:     met,
		CheckOrigin: checkOrigin,
		Setup: func(b *bridge.Bridge) {
			b.On(bridge.OpReload, func(ctx context.Context, _ bridge.Message) {
				svc.RefreshStatuses(ctx)
			})
			b.On(bridge.OpComplete, func(context.Context, bridge.Message) {
				log.Info("frame completed")
			})
			b.On(bridge.OpCancel, func(context.Context, bridge.Message) {
				log.Info("frame cancelled")
			})
		},
	})

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveStreams(repo.ActiveCount()) }).ServeHTTP(w, r)
	})
	r.Handle("/frame", frames)
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	status.Start(ctx)
	go previews.Run(ctx)

	log.Info("server starting",
		"port", port,
		"fabric_url", fabricURL,
		"status_interval", statusInterval.String(),
		"previews_enabled", previewsEnabled,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	status.Stop()
	previews.Stop()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
