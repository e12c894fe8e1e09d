package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lib/pq"

	"github.com/soyjavierquiroz/sentinel/internal/api"
	"github.com/soyjavierquiroz/sentinel/internal/collector"
	"github.com/soyjavierquiroz/sentinel/internal/config"
	"github.com/soyjavierquiroz/sentinel/internal/db"
	"github.com/soyjavierquiroz/sentinel/internal/db/conf"
	"github.com/soyjavierquiroz/sentinel/internal/notifier"
	"github.com/soyjavierquiroz/sentinel/internal/scheduler"
	"github.com/soyjavierquiroz/sentinel/internal/signals"
)

func main() {
	// .env is optional; deployments normally inject environment variables.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	log.Printf("Starting sentinel for %s/%s", cfg.Asset, cfg.Fiat)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Run migrations if enabled
	if cfg.RunMigration {
		if err := runMigrations(ctx, cfg.DBConnStr); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize database connection
	dbConfig, err := conf.NewConfig(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		log.Fatalf("Failed to create DB config: %v", err)
	}

	storage, err := db.New(*dbConfig)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Println("Connected to Postgres")

	// Set up notification system
	var alerts notifier.Notifier = notifier.Noop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		alerts = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
	} else {
		log.Println("Telegram credentials missing, alerts disabled")
	}

	engineCfg, err := signals.ConfigFrom(cfg)
	if err != nil {
		log.Fatalf("Invalid engine configuration: %v", err)
	}
	engine := signals.New(storage, alerts, engineCfg)

	col := collector.New(storage, collector.Config{
		URL:            cfg.CollectorURL,
		Asset:          cfg.Asset,
		Fiat:           cfg.Fiat,
		MinMonthOrders: cfg.MinMonthOrders,
		MinFinishRate:  cfg.MinFinishRate,
		MinFiatAmount:  cfg.MinFiatAmount,
		MaxFiatAmount:  cfg.MaxFiatAmount,
	})

	hour, min, err := cfg.SummaryClock()
	if err != nil {
		log.Fatalf("Invalid summary time: %v", err)
	}

	sched := scheduler.New()
	sched.Every(ctx, "collector", cfg.CollectInterval, true, func(ctx context.Context) {
		if err := col.Collect(ctx); err != nil {
			log.Printf("Collector | cycle failed: %v", err)
		}
	})
	sched.Every(ctx, "signals", cfg.EvalInterval, true, func(ctx context.Context) {
		err := engine.DetectSignals(ctx)
		switch {
		case errors.Is(err, signals.ErrInsufficientData):
			log.Println("Signals | not enough ticks in window, skipping cycle")
		case err != nil:
			log.Printf("Signals | cycle failed: %v", err)
		}
	})
	sched.DailyAt(ctx, "daily-summary", hour, min, engineCfg.SummaryLocation, func(ctx context.Context) {
		if err := engine.DailySummary(ctx); err != nil {
			log.Printf("Summary | failed: %v", err)
		}
	})

	// Read-only monitoring API
	srv := &http.Server{Addr: cfg.APIAddr, Handler: api.NewServer(storage).Handler()}
	go func() {
		log.Printf("API listening on %s", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("API server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Graceful shutdown initiated...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("API shutdown error: %v", err)
	}

	sched.Wait()
	log.Println("Shutdown complete")
}

// runMigrations creates the database if it doesn't exist and runs the schema.sql script
func runMigrations(ctx context.Context, connStr string) error {
	log.Println("Running database migrations...")

	// Parse connection string to extract database name
	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name not found in connection string")
	}

	// Create a connection string to the postgres database to create our database
	baseConnStr := fmt.Sprintf("postgres://%s:%s@%s/postgres%s",
		u.User.Username(),
		func() string {
			p, _ := u.User.Password()
			return p
		}(),
		u.Host,
		func() string {
			if u.RawQuery != "" {
				return "?" + u.RawQuery
			}
			return ""
		}())

	// Connect to the postgres database
	baseDB, err := sql.Open("postgres", baseConnStr)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	// Check if our database exists
	var exists bool
	err = baseDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}

	// Create the database if it doesn't exist
	if !exists {
		log.Printf("Creating database %s...", dbName)
		_, err = baseDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	// Connect to our database
	appDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer appDB.Close()

	// Read the schema.sql file
	schemaSQL, err := os.ReadFile("scripts/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}

	// Execute the schema.sql script
	_, err = appDB.ExecContext(ctx, string(schemaSQL))
	if err != nil {
		return fmt.Errorf("failed to execute schema.sql: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}
