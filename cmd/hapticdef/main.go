package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hapticdef/hapticdef/internal/analysis"
	"github.com/hapticdef/hapticdef/internal/database"
	"github.com/hapticdef/hapticdef/internal/server"
	"github.com/hapticdef/hapticdef/internal/sink"
	"github.com/hapticdef/hapticdef/internal/storage"
	"github.com/hapticdef/hapticdef/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded, using the environment")
	}

	port := getEnv("PORT", "8080")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(databaseURL); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	log.Println("database migrations applied")

	store, err := storage.New(ctx, storage.Config{
		Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:3900"),
		PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
		Bucket:         getEnv("S3_BUCKET", "hapticdef"),
		AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		SecretKey:      os.Getenv("S3_SECRET_KEY"),
		Region:         getEnv("S3_REGION", "eu-central-1"),
	})
	if err != nil {
		log.Fatalf("storage initialization failed: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("storage bucket check failed: %v", err)
	}

	baseURL := getEnv("BASE_URL", "http://localhost:"+port)
	allowedOrigins := getEnvList("ALLOWED_ORIGINS")
	if err := store.AllowOrigins(ctx, append([]string{baseURL}, allowedOrigins...)); err != nil {
		slog.Warn("storage CORS configuration failed", "error", err)
	}
	log.Println("storage bucket ready")

	var webFS fs.FS
	if sub, err := fs.Sub(web.DistFS, "dist"); err == nil {
		webFS = sub
	}

	var detector analysis.CueDetector
	if aiBaseURL := os.Getenv("AI_BASE_URL"); aiBaseURL != "" {
		model := getEnv("AI_MODEL", "gpt-4o-mini")
		detector = analysis.NewVisionClient(aiBaseURL, os.Getenv("AI_API_KEY"), model, getEnvDuration("AI_TIMEOUT", 2*time.Minute))
		log.Printf("video analysis enabled (model: %s)", model)
	} else {
		slog.Warn("AI_BASE_URL is not set; uploads will fail analysis")
	}

	hub := sink.NewHub()
	srv := server.New(server.Config{
		DB:               db.Pool,
		Pinger:           db,
		Storage:          store,
		Detector:         detector,
		Hub:              hub,
		WebFS:            webFS,
		BaseURL:          baseURL,
		MaxUploadBytes:   getEnvInt64("MAX_UPLOAD_BYTES", 200*1024*1024),
		MaxFrames:        int(getEnvInt64("MAX_ANALYSIS_FRAMES", 300)),
		AllowedOrigins:   allowedOrigins,
		SeekJumpSeconds:  getEnvFloat("SEEK_JUMP_SECONDS", 1.5),
		S3PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
	})

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	analysis.StartCleanupLoop(cleanupCtx, analysis.NewRepository(db.Pool), store, getEnvDuration("RETENTION", 7*24*time.Hour), time.Hour)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("hapticdef listening on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-shutdownCh
	log.Println("shutting down...")
	cleanupCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
	log.Println("shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping blank entries.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
