package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/hamasaki/kengen/internal/handlers"
	"github.com/hamasaki/kengen/internal/infrastructure/config"
	"github.com/hamasaki/kengen/internal/infrastructure/database"
	"github.com/hamasaki/kengen/internal/infrastructure/metrics"
	"github.com/hamasaki/kengen/internal/repositories/postgres"
	"github.com/hamasaki/kengen/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	env := flag.String("env", "dev", "environment name (dev, test, prod)")
	flag.Parse()

	if err := run(*env); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

func run(env string) error {
	if err := config.InitConfig(env); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.Printf("connected to database %s@%s:%d", cfg.Database.Database, cfg.Database.Host, cfg.Database.Port)

	permissionService := services.NewPermissionService(
		postgres.NewPostgresPermissionRepository(db.DB),
		postgres.NewPostgresMembershipRepository(db.DB),
		postgres.NewPostgresProjectRepository(db.DB),
		postgres.NewPostgresTeamRepository(db.DB),
	)

	exporter := metrics.NewPrometheusExporter()

	router := mux.NewRouter()
	router.Use(metrics.Middleware(exporter))
	handlers.NewPermissionHandler(permissionService, exporter).RegisterRoutes(router)
	router.HandleFunc("/health", healthHandler(db)).Methods(http.MethodGet)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", exporter.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("permission API listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server failed: %w", err)
		}
	}()
	go func() {
		log.Printf("metrics listening on %s/metrics", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received signal %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	log.Println("server stopped")
	return nil
}

func healthHandler(db *database.Postgres) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(); err != nil {
			log.Printf("health check failed: %v", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok"}`)
	}
}
