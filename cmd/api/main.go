package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pokjoy/qfeng5/internal/cache"
	"github.com/pokjoy/qfeng5/internal/config"
	"github.com/pokjoy/qfeng5/internal/credential"
	"github.com/pokjoy/qfeng5/internal/database"
	"github.com/pokjoy/qfeng5/internal/handler"
	"github.com/pokjoy/qfeng5/internal/middleware"
	"github.com/pokjoy/qfeng5/internal/repository"
	"github.com/pokjoy/qfeng5/internal/service"
	"github.com/pokjoy/qfeng5/internal/worker"
	"github.com/pokjoy/qfeng5/pkg/orderid"
	"github.com/pokjoy/qfeng5/pkg/payment"
)

// main is the entrypoint of the unlock authorization service.
func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	setupLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Msg("starting qfeng5 api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Connect database and run migrations
	db, err := database.Connect(ctx, &cfg.DB)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(db.DB, "file://migrations"); err != nil {
		log.Error().Err(err).Msg("migration failed")
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	log.Info().Msg("migrations completed successfully")

	// 3a. Connect to Redis. Credential bookkeeping is optional, so a
	// missing Redis only disables revocation.
	var (
		registry    service.CredentialRegistry
		purger      worker.CredentialPurger
		redisPinger handler.Pinger
	)
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, credential bookkeeping disabled")
	} else {
		defer redisClient.Close()
		reg := cache.NewCredentialRegistry(redisClient)
		registry, purger, redisPinger = reg, reg, redisClient
		log.Info().Msg("redis connected successfully")
	}

	// 4. Initialize repositories
	orderRepo := repository.NewOrderRepository(db)
	configRepo := repository.NewConfigRepository(db)

	// 5. Initialize services
	codec, err := credential.NewCodec(cfg.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("credential codec initialization failed")
	}

	configSvc := service.NewConfigService(configRepo)
	catalog := service.NewCatalog(cfg.Unlock.ContentSlugs, cfg.Unlock.ProtectedSlugs)
	unlockSvc := service.NewUnlockService(codec, registry, configSvc, catalog, cfg.Unlock.AccessCodes, service.AdPolicy{
		MinSeconds: cfg.Unlock.AdMinSeconds,
		MaxClips:   cfg.Unlock.AdMaxClips,
	})
	if len(cfg.Unlock.AccessCodes) == 0 {
		log.Warn().Msg("ACCESS_CODES is empty, code unlock will always fail")
	}

	paymentClient := payment.NewClient(payment.Config{
		GatewayURL:    cfg.Payment.GatewayURL,
		ProbeEndpoint: cfg.Payment.ProbeEndpoint,
		APIKey:        cfg.Payment.APIKey,
		Secret:        cfg.Payment.CallbackSecret,
		Timeout:       cfg.Payment.Timeout,
		RetryAttempts: cfg.Payment.RetryAttempts,
		RetryPause:    cfg.Payment.RetryPause,
	})
	if cfg.Payment.CallbackSecret == "" {
		log.Warn().Msg("no payment callback secret configured, every callback will be rejected")
	}
	donationSvc := service.NewDonationService(orderRepo, configSvc, unlockSvc, paymentClient, orderid.New(), cfg.BaseURL)
	currencySvc := service.NewCurrencyService(configSvc)

	var lister service.MediaLister = service.DirLister{Dir: cfg.Media.Dir, URLPrefix: cfg.Media.URLPrefix}
	if cfg.Media.S3Bucket != "" {
		s3Lister, err := service.NewS3Lister(ctx, cfg.Media)
		if err != nil {
			log.Warn().Err(err).Msg("S3 media lister initialization failed, falling back to local directory")
		} else {
			lister = s3Lister
		}
	}
	mediaSvc := service.NewMediaService(lister, cfg.Unlock.AdMaxClips)
	alertSvc := service.NewAlertService(orderRepo, cfg.Alert)

	// 6. Middleware
	limiter := middleware.NewInvalidCodeRateLimiter(5, time.Minute)
	adminAuth, err := middleware.NewAdminAuthMiddleware(cfg.Admin)
	if err != nil {
		log.Fatal().Err(err).Msg("admin auth initialization failed")
	}

	// 7. Workers
	sweeper := worker.NewExpirySweeper(orderRepo, purger, configSvc, cfg.Worker.SweepInterval)
	go sweeper.Start(ctx)
	go worker.NewAlertWorker(alertSvc, cfg.Worker.AlertInterval).Start(ctx)
	go limiter.Cleanup(ctx, time.Minute)
	go adminAuth.Cleanup(ctx, time.Minute)

	// 8. Handlers
	cookie := handler.CookieConfig{Name: cfg.Unlock.CookieName, Secure: cfg.Env == "production"}
	handlers := &handler.Handlers{
		Health:   handler.NewHealthHandler(orderRepo, redisPinger),
		Unlock:   handler.NewUnlockHandler(unlockSvc, mediaSvc, limiter, cookie),
		Donation: handler.NewDonationHandler(donationSvc, currencySvc, cookie),
		Admin:    handler.NewAdminHandler(donationSvc, unlockSvc, configSvc, sweeper),
	}

	// 9. Router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware(middleware.AllowedHosts(cfg.BaseURL)))
	router.Use(middleware.LoggingMiddleware())

	handler.SetupRoutes(router, handlers, &handler.Middlewares{
		Admin:      adminAuth,
		CodeLimit:  limiter,
		CookieName: cfg.Unlock.CookieName,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop workers before draining requests.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func setupLogger(env string) {
	if env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
