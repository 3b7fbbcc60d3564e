package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"wave-service/internal/auth"
	"wave-service/internal/cache"
	"wave-service/internal/config"
	"wave-service/internal/db"
	"wave-service/internal/grpcserver"
	"wave-service/internal/handlers"
	"wave-service/internal/middleware"
	"wave-service/internal/observability"
	"wave-service/internal/rabbitmq"
	"wave-service/internal/repositories"
	"wave-service/internal/services"
	"wave-service/internal/tasks"
	"wave-service/internal/telemetry"
	"wave-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	setupLogging(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		logrus.WithError(err).Fatal("failed to init tracing")
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to db")
	}
	defer database.Close()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logrus.WithError(err).Warn("redis unavailable: block list cache, rate limiting and purge worker disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.Exchange)
	defer publisher.Close()
	logrus.WithFields(logrus.Fields{
		"mode":   rabbitmq.PublisherMode(publisher),
		"reason": rabbitmq.PublisherNoopReason(publisher),
	}).Info("event publisher ready")
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, "audit."+cfg.ServiceName, cfg.ServiceName, cfg.Environment)

	waveRepo := repositories.NewWaveRepo(database)
	crewRepo := repositories.NewCrewRepo(database)
	messageRepo := repositories.NewCrewMessageRepo(database)
	// Block lists are only cached while block events can invalidate them.
	blockCacheClient := redisClient
	var blockEvents *rabbitmq.BlockEventConsumer
	if redisClient != nil {
		blockEvents, err = rabbitmq.NewBlockEventConsumer(cfg.AMQPURL, cfg.BlockEventsExchange, cfg.BlockEventsQueue)
		if err != nil {
			logrus.WithError(err).Warn("block events unavailable: block list cache disabled")
			blockCacheClient = nil
		} else {
			defer blockEvents.Close()
		}
	}
	blockList := cache.NewBlockListCache(blockCacheClient, repositories.NewBlockRepo(database), cfg.BlockListCacheTTL)
	if blockEvents != nil {
		go func() {
			if err := blockEvents.Run(ctx, blockList); err != nil {
				logrus.WithError(err).Error("block event consumer stopped")
				blockList.Bypass()
			}
		}()
	}
	listingRepo := repositories.NewListingRepo(database)

	hub := ws.NewHub()

	waveService := services.NewWaveService(waveRepo, blockList, listingRepo, services.WaveConfig{
		TTL:              cfg.WaveTTL,
		DefaultThreshold: cfg.DefaultThreshold,
		Location:         cfg.Location,
	}, services.WithWaveNotifier(hub), services.WithWaveEvents(publisher))
	crewService := services.NewCrewService(crewRepo, messageRepo, hub, publisher)

	validator := auth.NewValidator(cfg.JWTSecret)
	waveHandler := handlers.NewWaveHandler(waveService, audit)
	crewHandler := handlers.NewCrewHandler(crewService, audit)
	crewWS := ws.NewCrewWebSocketHandler(hub, crewRepo, validator)
	waveWS := ws.NewWaveWebSocketHandler(hub, waveService, validator)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID", "X-Device-Id"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	authMiddleware := middleware.AuthMiddleware(validator)
	writeLimit := middleware.RateLimit(redisClient, "writes", cfg.RateLimitRequests, cfg.RateLimitWindow)

	api := router.Group("/", authMiddleware)
	api.POST("/waves", writeLimit, waveHandler.CreateWave)
	api.GET("/waves/discover", waveHandler.DiscoverWaves)
	api.GET("/waves/:wave_id", waveHandler.GetWave)
	api.POST("/waves/:wave_id/join", writeLimit, waveHandler.JoinWave)
	api.DELETE("/waves/:wave_id", waveHandler.DeleteWave)

	api.GET("/crews", crewHandler.ListCrews)
	api.GET("/crews/:crew_id", crewHandler.GetCrew)
	api.GET("/crews/:crew_id/members", crewHandler.ListMembers)
	api.GET("/crews/:crew_id/messages", crewHandler.GetCrewMessages)
	api.POST("/crews/:crew_id/messages", writeLimit, crewHandler.PostCrewMessage)

	router.GET("/ws/crews/:crew_id", crewWS.Handle)
	router.GET("/ws/waves/:wave_id", waveWS.Handle)

	grpcServer := grpcserver.New(cfg.ServiceName)
	go func() {
		if err := grpcServer.Serve(cfg.GRPCPort); err != nil {
			logrus.WithError(err).Error("grpc server stopped")
		}
	}()

	var worker *tasks.Worker
	if redisClient != nil {
		worker, err = tasks.NewWorker(cfg.RedisURL, tasks.NewPurgeHandler(waveRepo, cfg.PurgeRetention), cfg.PurgeInterval)
		if err == nil {
			err = worker.Start()
		}
		if err != nil {
			logrus.WithError(err).Warn("purge worker disabled")
			worker = nil
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown")
	}
	grpcServer.Stop()
	if worker != nil {
		worker.Shutdown()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("tracing shutdown")
	}
}

func setupLogging(environment string) {
	if environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.DebugLevel)
}
