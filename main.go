package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pocp/bus"
	"pocp/config"
	"pocp/handlers"
	"pocp/logger"
	"pocp/metrics"
	"pocp/middleware"
	"pocp/models"
	"pocp/services"
	"pocp/storage"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Info("no .env file found, reading environment variables directly")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	var publisher services.Publisher = services.NopPublisher{}
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer b.Close()
		publisher = b
		log.Info("publishing domain events to NATS", zap.String("prefix", cfg.NATSSubjectPrefix))
	}

	var objects services.ObjectWriter
	if cfg.R2.Enabled() {
		r2, err := storage.NewR2(ctx, storage.Options{
			Endpoint:        cfg.R2.ResolvedEndpoint(),
			AccessKeyID:     cfg.R2.AccessKeyID,
			AccessKeySecret: cfg.R2.AccessKeySecret,
			Bucket:          cfg.R2.Bucket,
		})
		if err != nil {
			log.Fatal("failed to initialize R2 client", zap.Error(err))
		}
		objects = r2
	}

	enrollmentService := services.NewEnrollmentService(db, log.Named("enrollment"), publisher, cfg.QueryTimeout)
	requestService := services.NewRequestService(db, log.Named("requests"), publisher, cfg.QueryTimeout)
	standingsService := services.NewStandingsService(db, log.Named("standings"), cfg.QueryTimeout)
	userService := services.NewUserService(db, log.Named("users"), cfg.QueryTimeout)
	attestationService := services.NewAttestationService(standingsService, objects, cfg.AttestationEventType, log.Named("attestations"))

	var sched gocron.Scheduler
	if objects != nil {
		sched, err = attestationService.StartExportScheduler(ctx, cfg.ExportInterval)
		if err != nil {
			log.Fatal("failed to start attestation export scheduler", zap.Error(err))
		}
		log.Info("attestation export scheduled", zap.Duration("every", cfg.ExportInterval))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(metrics.Middleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, " + middleware.WalletHeader,
		MaxAge:       86400,
	}))

	handlers.SetupHealthRoutes(app, db)

	// Everything past health and metrics must come through the gateway.
	app.Use(middleware.GatewayAuth(cfg.GatewayToken, log.Named("gateway")))

	handlers.SetupEventRoutes(app, enrollmentService, userService)
	handlers.SetupRequestRoutes(app, requestService)
	handlers.SetupStandingsRoutes(app, standingsService, attestationService, cfg.StandingsPollInterval, log.Named("stream"))

	go func() {
		if err := app.Listen(cfg.Addr); err != nil {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	log.Info("server running",
		zap.String("addr", cfg.Addr),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.Bool("gateway_auth", cfg.GatewayToken != ""),
		zap.Bool("attestation_export", objects != nil),
	)

	<-ctx.Done()
	log.Info("shutting down server")

	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			log.Warn("scheduler shutdown failed", zap.Error(err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
