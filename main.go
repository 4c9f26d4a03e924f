package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"photomap/internal/cache"
	"photomap/internal/database"
	"photomap/internal/handlers"
	"photomap/internal/ingest"
	"photomap/internal/logging"
	"photomap/internal/media"
	"photomap/internal/middleware"
	"photomap/internal/startup"
	"photomap/internal/workers"
)

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logging.Warn("Database close error: %v", closeErr)
		}
	}()
	startup.LogDatabaseInit(time.Since(dbStart))

	// Keep the connection-pool gauge fresh
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		for range ticker.C {
			db.UpdateDBMetrics()
		}
	}()

	// Initialize libvips; without it thumbnails fall back to the pure
	// Go resize path
	if err := media.InitVips(); err != nil {
		logging.Warn("libvips unavailable, using fallback thumbnailer: %v", err)
	}
	defer media.ShutdownVips()

	// Initialize cache and ingestion pipeline
	listingCache := cache.New(config.CacheTTL)
	ingestor := ingest.New(db, listingCache, ingest.Config{
		ThumbnailDir: config.ThumbnailDir,
		OriginalDir:  config.OriginalDir,
		Workers:      workers.Count(config.UploadWorkers),
	})

	// Initialize handlers
	h := handlers.New(db, listingCache, ingestor, config)

	// Setup router
	router := setupRouter(h)

	// Log routes dynamically
	startup.LogHTTPRoutes(router)

	// Apply metrics middleware
	metricsHandler := middleware.Metrics(middleware.DefaultMetricsConfig())(router)

	// Apply logging middleware
	handler := middleware.Logger(middleware.DefaultLoggingConfig())(metricsHandler)

	// Serve Prometheus metrics on a separate port
	metricsSrv := startMetricsServer(config.MetricsPort)

	// Create server
	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, metricsSrv)

	// Start server
	startup.LogServerStarted(config.Port, time.Since(startTime))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes (no auth required)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/photos", h.UploadPhoto).Methods("POST")
	api.HandleFunc("/photos/geotagged", h.GetGeotaggedPhotos).Methods("GET")
	api.HandleFunc("/photos/nogps", h.GetPhotosWithoutGPS).Methods("GET")
	api.HandleFunc("/photos/location", h.UpdatePhotoLocation).Methods("POST")
	api.HandleFunc("/photos/{ref}/thumbnails", h.BackfillThumbnails).Methods("POST")
	api.HandleFunc("/photos/{id:[0-9]+}", h.DeletePhoto).Methods("DELETE")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")

	return r
}

// startMetricsServer exposes /metrics on its own port so the scrape
// endpoint never competes with uploads.
func startMetricsServer(port string) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      metricsMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("Metrics server error: %v", err)
		}
	}()

	return srv
}

func handleShutdown(srv, metricsSrv *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	}

	startup.LogShutdownStep("Shutting down metrics server")
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logging.Warn("Metrics server shutdown error: %v", err)
	}

	startup.LogShutdownComplete()
}
