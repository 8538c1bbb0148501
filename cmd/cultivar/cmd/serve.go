package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/cultivar-crm/cultivar/internal/adapters"
	"github.com/cultivar-crm/cultivar/internal/core/api"
	"github.com/cultivar-crm/cultivar/internal/core/auth"
	"github.com/cultivar-crm/cultivar/internal/core/config"
	"github.com/cultivar-crm/cultivar/internal/core/db"
	"github.com/cultivar-crm/cultivar/internal/core/server"
	"github.com/cultivar-crm/cultivar/internal/dispatch"
	"github.com/cultivar-crm/cultivar/internal/segment"
	"github.com/cultivar-crm/cultivar/internal/store"
	"github.com/cultivar-crm/cultivar/internal/trigger"
	"github.com/cultivar-crm/cultivar/internal/types"
)

const Version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and background engines",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	serveCmd.Flags().Int("port", 8080, "HTTP server port")
	serveCmd.Flags().Bool("no-auth", false, "serve without API key authentication (development only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		cfg.Host = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		cfg.Port = port
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if !rootCmd.PersistentFlags().Changed("log-level") && cfg.LogLevel != "" {
		logLevel = cfg.LogLevel
	}
	if !rootCmd.PersistentFlags().Changed("log-format") && cfg.LogFormat != "" {
		logFormat = cfg.LogFormat
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := checkMigrations(database); err != nil {
		return err
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	noAuth, _ := cmd.Flags().GetBool("no-auth")
	var authenticator *auth.Authenticator
	if !noAuth {
		secrets, err := config.HMACSecrets()
		if err != nil {
			return fmt.Errorf("failed to load HMAC secrets: %w", err)
		}
		if len(secrets) == 0 {
			return fmt.Errorf("no HMAC secrets configured (set CULTIVAR_HMAC_SECRET, or pass --no-auth for development)")
		}
		authenticator = auth.NewAuthenticator(secrets, queries)
	}

	sqlStore, err := store.NewSQL(database)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	segments := segment.NewEngine(sqlStore, sqlStore, logger)
	registry := adapters.NewRegistry()
	adapters.RegisterReferenceAdapters(registry, logger)

	dispatcher, err := dispatch.New(dispatch.Config{
		Log:            sqlStore,
		Adapters:       registry,
		Internal:       store.NewCRM(sqlStore, logger),
		Segments:       segments,
		Workers:        cfg.DispatcherWorkers,
		QueueSize:      cfg.DispatcherQueue,
		AdapterTimeout: cfg.AdapterTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	triggers := trigger.NewEngine(sqlStore, dispatcher, logger)

	service, err := api.NewService(api.Config{
		Store:    sqlStore,
		Source:   sqlStore,
		Segments: segments,
		Triggers: triggers,
		Pinger:   database,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	httpServer, err := server.NewHTTPServer(cfg, service, authenticator)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	dispatcher.Start(workCtx)
	if cfg.RecomputeInterval > 0 {
		go recomputeLoop(workCtx, segments, sqlStore, cfg.RecomputeInterval, logger)
	}

	logger.Info("starting cultivar", "version", Version, "host", cfg.Host, "port", cfg.Port)
	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		cancel()
		dispatcher.Wait()
		return err
	case <-sigChan:
		logger.Info("shutting down gracefully")
		shutdownErr := httpServer.Shutdown(ctx)
		cancel()
		dispatcher.Wait()
		return shutdownErr
	}
}

// checkMigrations verifies the schema is current before serving traffic.
func checkMigrations(database *sqlx.DB) error {
	var migrationID string
	checkQuery := `SELECT migration_id FROM migrations WHERE migration_id = '001_initial_schema.sql'`
	err := database.Get(&migrationID, database.Rebind(checkQuery))
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("migration 001_initial_schema not applied - run 'cultivar migrate' first")
		}
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	return nil
}

// recomputeLoop refreshes active dynamic segment memberships on a fixed
// cadence, so segments converge even when no donor-change notification
// arrives.
func recomputeLoop(ctx context.Context, segments *segment.Engine, st store.SegmentStore, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		all, err := st.ListSegments(ctx)
		if err != nil {
			logger.Error("recompute sweep: list segments", "error", err)
			continue
		}
		at := time.Now().UTC()
		for _, seg := range all {
			if !seg.Dynamic() || seg.State != types.StateActive {
				continue
			}
			if _, err := segments.Recompute(ctx, seg.ID, at); err != nil {
				logger.Error("recompute sweep: segment failed", "segment_id", seg.ID, "error", err)
			}
		}
	}
}
