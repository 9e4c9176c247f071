package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/smartrx/smartrx/internal/config"
	"github.com/smartrx/smartrx/internal/domain/identity"
	"github.com/smartrx/smartrx/internal/domain/patient"
	"github.com/smartrx/smartrx/internal/domain/prescription"
	"github.com/smartrx/smartrx/internal/domain/reward"
	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/auth"
	"github.com/smartrx/smartrx/internal/platform/blobstore"
	"github.com/smartrx/smartrx/internal/platform/db"
	"github.com/smartrx/smartrx/internal/platform/middleware"
	"github.com/smartrx/smartrx/internal/platform/validate"
	"github.com/smartrx/smartrx/internal/platform/websocket"
	"github.com/smartrx/smartrx/migrations"
)

// multipartOverhead is allowed on top of MAX_UPLOAD_BYTES for form fields
// and boundaries.
const multipartOverhead = 1 << 20

func main() {
	rootCmd := &cobra.Command{
		Use:          "smartrx-server",
		Short:        "SmartRx patient, prescription and rewards API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newLogger writes JSON in deployed environments and a console format
// during development.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
			Level(level).With().Timestamp().Logger()
	}
	return logger
}

// migrationFiles prefers MIGRATIONS_DIR when set so schema changes can be
// tried without rebuilding.
func migrationFiles(cfg *config.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return migrations.FS
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	}, logger)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationFiles(cfg)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(cfg)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.DateTime)
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative tasks",
	}

	grantCmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant a role to an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			role, _ := cmd.Flags().GetString("role")
			if email == "" {
				return fmt.Errorf("--email is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := newIdentityService(cfg, pool, logger)
			u, err := svc.GrantRole(ctx, email, role)
			if err != nil {
				return err
			}
			fmt.Printf("User %d (%s) now has roles %v\n", u.ID, u.Email, u.Roles)
			return nil
		},
	}
	grantCmd.Flags().String("email", "", "Email of the user")
	grantCmd.Flags().String("role", auth.RoleAdmin, "Role to grant")
	cmd.AddCommand(grantCmd)

	return cmd
}

func newIdentityService(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *identity.Service {
	return identity.NewService(
		identity.NewUserRepo(pool),
		identity.NewRefreshTokenRepo(pool),
		db.NewTxRunner(pool),
		auth.NewPasswordHasher(0),
		auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL),
		cfg.RefreshTokenTTL,
		logger,
	)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.UsesDevSecret() {
		logger.Warn().Msg("signing tokens with the development JWT secret")
	}

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	txRunner := db.NewTxRunner(pool)

	blobs, err := blobstore.NewFileStore(cfg.BlobDir, cfg.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	rates, err := reward.ParseRates(cfg.RewardConversionRates)
	if err != nil {
		return fmt.Errorf("REWARD_CONVERSION_RATES: %w", err)
	}

	hub := websocket.NewHub(logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = apierror.HTTPErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
		ExposeHeaders: []string{echo.HeaderContentDisposition, prescription.HeaderRewardPoints},
	}))
	e.Use(echomw.BodyLimit(strconv.FormatInt(cfg.MaxUploadBytes+multipartOverhead, 10)))

	e.GET("/health", db.HealthHandler(pool))

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)
	public := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))
	api := public.Group("", auth.JWTMiddleware(issuer))

	// -- Rewards --
	rewardTxRepo := reward.NewTransactionRepoPG(pool)
	rewardConvRepo := reward.NewConversionRepoPG(pool)
	rewardRuleRepo := reward.NewRuleRepoPG(pool)
	badgeRepo := reward.NewBadgeRepoPG(pool)
	rewardSvc := reward.NewService(rewardTxRepo, rewardConvRepo, rewardRuleRepo, badgeRepo, rates, txRunner, logger,
		reward.WithNotifier(reward.NewHubNotifier(hub)),
		reward.WithBadgeEvaluator(reward.NewThresholdEvaluator(badgeRepo, reward.NewReconciler(rewardTxRepo, rewardConvRepo, badgeRepo))),
	)
	reward.NewHandler(rewardSvc).RegisterRoutes(api)

	// -- Identity --
	identity.NewHandler(newIdentityService(cfg, pool, logger)).RegisterRoutes(public, api)

	// -- Patients --
	patientSvc := patient.NewService(patient.NewPatientRepo(pool), patient.NewVitalRepo(pool), rewardSvc, logger)
	patient.NewHandler(patientSvc).RegisterRoutes(api)

	// -- Prescriptions --
	rxSvc := prescription.NewService(prescription.NewRepo(pool), blobs, patientSvc, rewardSvc, logger)
	prescription.NewHandler(rxSvc).RegisterRoutes(api)

	// -- Realtime --
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
