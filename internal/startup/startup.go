package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"photomap/internal/logging"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration
type Config struct {
	MediaPath     string
	DatabaseDir   string
	Port          string
	MetricsPort   string
	UploadSecret  string
	UploadWorkers int
	CacheTTL      time.Duration

	// Derived paths
	DatabasePath string
	ThumbnailDir string
	OriginalDir  string
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	mediaPath := getEnv("MEDIA_PATH", "/media")
	databaseDir := getEnv("DATABASE_DIR", "/database")
	port := getEnv("PORT", "8080")
	metricsPort := getEnv("METRICS_PORT", "9090")
	uploadSecret := os.Getenv("UPLOAD_SECRET")
	uploadWorkers := getEnvInt("UPLOAD_WORKERS", 0)
	cacheTTLStr := getEnv("CACHE_TTL", "15m")

	logging.Info("  MEDIA_PATH:     %s", mediaPath)
	logging.Info("  DATABASE_DIR:   %s", databaseDir)
	logging.Info("  PORT:           %s", port)
	logging.Info("  METRICS_PORT:   %s", metricsPort)
	logging.Info("  UPLOAD_SECRET:  %s", maskSecret(uploadSecret))
	logging.Info("  UPLOAD_WORKERS: %d (0 = auto)", uploadWorkers)
	logging.Info("  CACHE_TTL:      %s", cacheTTLStr)
	logging.Info("  LOG_LEVEL:      %s", logging.GetLevel())

	if uploadSecret == "" {
		return nil, fmt.Errorf("UPLOAD_SECRET must be set (uploads are authenticated by shared secret)")
	}

	cacheTTL, err := time.ParseDuration(cacheTTLStr)
	if err != nil {
		logging.Warn("  Invalid CACHE_TTL, using default: 15m")
		cacheTTL = 15 * time.Minute
	}

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	mediaPath, err = filepath.Abs(mediaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media path: %w", err)
	}
	logging.Info("  Media path (absolute): %s", mediaPath)

	databaseDir, err = filepath.Abs(databaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	logging.Info("  Database directory (absolute): %s", databaseDir)

	config := &Config{
		MediaPath:     mediaPath,
		DatabaseDir:   databaseDir,
		Port:          port,
		MetricsPort:   metricsPort,
		UploadSecret:  uploadSecret,
		UploadWorkers: uploadWorkers,
		CacheTTL:      cacheTTL,
		DatabasePath:  filepath.Join(databaseDir, "photomap.db"),
		ThumbnailDir:  filepath.Join(mediaPath, "thumbnails"),
		OriginalDir:   filepath.Join(mediaPath, "original"),
	}

	// Both trees must be writable: originals and thumbnails are written
	// during every ingestion, the database on startup.
	for _, dir := range []string{databaseDir, config.ThumbnailDir, config.OriginalDir} {
		if err := ensureDirectory(dir); err != nil {
			return nil, err
		}
	}
	logging.Info("  [OK] Media and database directories are writable")

	return config, nil
}

// ensureDirectory creates the directory if needed and verifies write access
func ensureDirectory(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	testFile := filepath.Join(path, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return fmt.Errorf("directory %s is not writable: %w", path, err)
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove test file %s: %v", testFile, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		logging.Warn("  Invalid %s value %q, using default %d", key, value, fallback)
	}
	return fallback
}

func maskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "(set)"
}

func printBanner() {
	logging.Info("============================================================")
	logging.Info("photomap %s (commit %s, built %s, %s)", Version, Commit, BuildTime, GoVersion)
	logging.Info("============================================================")
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{Method: method, Path: pathTemplate})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes
func LogHTTPRoutes(router *mux.Router) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("error walking routes: %v", err)
	}
	logging.Info("  Registered routes (%d total):", len(routes))
	for _, r := range routes {
		logging.Info("    %-7s %s", r.Method, r.Path)
	}
}

// LogServerStarted logs the final startup summary
func LogServerStarted(port string, elapsed time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("READY")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Listening on :%s (started in %v)", port, elapsed)
}

// LogDatabaseInit logs how long opening the database took
func LogDatabaseInit(elapsed time.Duration) {
	logging.Info("  Database ready in %v", elapsed)
}

// LogShutdownInitiated logs the start of a graceful shutdown
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN (%s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs one step of the shutdown sequence
func LogShutdownStep(step string) {
	logging.Info("  %s...", step)
}

// LogShutdownComplete logs the end of a graceful shutdown
func LogShutdownComplete() {
	logging.Info("  Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}
