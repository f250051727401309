package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hl7deid/hl7deid/internal/api"
	"github.com/hl7deid/hl7deid/internal/batch"
	"github.com/hl7deid/hl7deid/internal/config"
	"github.com/hl7deid/hl7deid/internal/deid/engine"
	"github.com/hl7deid/hl7deid/internal/deid/identity"
	"github.com/hl7deid/hl7deid/internal/deid/names"
	"github.com/hl7deid/hl7deid/internal/deid/pseudoid"
	"github.com/hl7deid/hl7deid/internal/deid/rules"
	"github.com/hl7deid/hl7deid/internal/msgindex"
	"github.com/hl7deid/hl7deid/internal/platform/auth"
	"github.com/hl7deid/hl7deid/internal/platform/db"
	"github.com/hl7deid/hl7deid/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deid-server",
		Short: "HL7v2 de-identification service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(processCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the de-identification API server and directory watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process [file or directory]",
		Short: "Pseudonymize files once, without serving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			done, _ := cmd.Flags().GetString("done")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			eng, _, err := buildEngine(cfg, pool)
			if err != nil {
				return err
			}

			w := batch.NewWatcher(eng, "", out, done)
			return w.ProcessPath(ctx, args[0])
		},
	}
	cmd.Flags().String("out", "./out", "Directory for pseudonymized output files")
	cmd.Flags().String("done", "./done", "Directory processed originals are moved to")
	return cmd
}

func setupLogger(cfg *config.Config) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	zlog.Logger = logger
}

// buildEngine wires the rule set, name lists, and Postgres-backed services
// into a ready engine plus the message index it reports to.
func buildEngine(cfg *config.Config, pool *pgxpool.Pool) (*engine.Engine, *msgindex.Service, error) {
	ruleSet, err := rules.Load(cfg.RulesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load rules: %w", err)
	}
	lists, err := names.Load(cfg.NamesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load name lists: %w", err)
	}

	identities := identity.NewService(identity.NewRepoPG(pool), lists)
	pseudoIDs := pseudoid.NewService(pseudoid.NewRepoPG(pool), ruleSet)
	index := msgindex.NewService(msgindex.NewRepoPG(pool))
	return engine.New(ruleSet, identities, pseudoIDs, index), index, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)
	logger := zlog.Logger

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	eng, index, err := buildEngine(cfg, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit("5M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	e.GET("/health", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevMiddleware())
	} else {
		apiV1.Use(auth.Middleware(cfg.AuthSecret))
	}
	api.NewHandler(eng, index).Register(apiV1)

	if cfg.WatcherEnabled() {
		w := batch.NewWatcher(eng, cfg.WatchInputDir, cfg.WatchOutputDir, cfg.WatchDoneDir)
		if err := w.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start batch watcher")
		}
	} else {
		logger.Info().Msg("batch watcher disabled, set WATCH_INPUT_DIR, WATCH_OUTPUT_DIR, WATCH_DONE_DIR to enable")
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
