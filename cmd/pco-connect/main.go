// Command pco-connect runs the Planning Center connector: an HTTP façade
// offering OAuth login with PKCE, token storage with transparent refresh, and
// flattened read access to people and service plans.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	pcoconnect "github.com/churchops/pco-connect"
	"github.com/churchops/pco-connect/storage/memory"
)

func main() {
	logger := setupLogger()

	config := &pcoconnect.Config{
		PublicBaseURL: getEnvOrDefault("PUBLIC_BASE_URL", ""),

		OAuth: pcoconnect.OAuthConfig{
			ClientID:     getEnvOrDefault("PCO_CLIENT_ID", ""),
			ClientSecret: getEnvOrDefault("PCO_CLIENT_SECRET", ""),
			RedirectURL:  getEnvOrDefault("PCO_REDIRECT_URI", ""),
			Scopes:       splitList(getEnvOrDefault("PCO_SCOPES", "")),
		},

		// Personal access token fallback when no OAuth app is registered.
		AppAuth: pcoconnect.AppAuthConfig{
			AppID:  getEnvOrDefault("PCO_APP_ID", ""),
			Secret: getEnvOrDefault("PCO_SECRET", ""),
		},

		Upstream: pcoconnect.UpstreamConfig{
			BaseURL: getEnvOrDefault("PCO_API_BASE_URL", ""),
		},

		Services: pcoconnect.ServicesConfig{
			DefaultServiceTypeID:   getEnvOrDefault("PCO_DEFAULT_SERVICE_TYPE_ID", ""),
			DefaultServiceTypeName: getEnvOrDefault("PCO_DEFAULT_SERVICE_TYPE_NAME", ""),
		},

		RateLimit: pcoconnect.RateLimitConfig{
			Rate:       getIntEnv("RATE_LIMIT_RPS", 10),
			Burst:      getIntEnv("RATE_LIMIT_BURST", 20),
			TrustProxy: getBoolEnv("TRUST_PROXY", false),
		},

		CORSOrigins:        splitList(getEnvOrDefault("CORS_ORIGINS", "")),
		EnableAuditLogging: getBoolEnv("ENABLE_AUDIT_LOGGING", true),
		Logger:             logger,
	}

	store := memory.New(memory.WithLogger(logger))
	defer store.Stop()

	server, err := pcoconnect.New(config, store, store)
	if err != nil {
		log.Fatalf("Failed to create connector: %v", err)
	}
	defer server.Close()

	store.SetInstrumentation(server.Instrumentation())

	mux := http.NewServeMux()
	pcoconnect.NewHandler(server).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         ":" + getEnvOrDefault("PORT", "8080"),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("Starting connector",
		"addr", httpServer.Addr,
		"oauth_configured", config.OAuth.Configured(),
		"app_auth_configured", config.AppAuth.Configured(),
		"public_base_url", config.PublicBaseURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-stop
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if getBoolEnv("DEBUG", false) {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if getEnvOrDefault("LOG_FORMAT", "json") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// splitList parses a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
