package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/common/auth"
	apperrors "github.com/yashrajoria/fotofacil-backend/common/errors"
	"github.com/yashrajoria/fotofacil-backend/common/logger"
	"github.com/yashrajoria/fotofacil-backend/common/middleware"
	"github.com/yashrajoria/fotofacil-backend/config"
	"github.com/yashrajoria/fotofacil-backend/controllers"
	"github.com/yashrajoria/fotofacil-backend/database"
	"github.com/yashrajoria/fotofacil-backend/kafka"
	aws_pkg "github.com/yashrajoria/fotofacil-backend/pkg/aws"
	"github.com/yashrajoria/fotofacil-backend/pkg/gcp"
	"github.com/yashrajoria/fotofacil-backend/providers"
	"github.com/yashrajoria/fotofacil-backend/repository"
	"github.com/yashrajoria/fotofacil-backend/routes"
	"github.com/yashrajoria/fotofacil-backend/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	awsCfg, err := aws_pkg.LoadAWSConfig(rootCtx)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load AWS config", zap.Error(err))
	}

	// --- 1. Logging ---
	log := logger.Initialize(cfg.Env, cfg.ServiceName)
	if cfg.CloudWatchLogGroup != "" {
		cwLogs, err := aws_pkg.NewCloudWatchLogsClient(rootCtx, awsCfg, cfg.CloudWatchLogGroup, cfg.ServiceName)
		if err != nil {
			log.Warn("CloudWatch Logs unavailable, logging to stdout only", zap.Error(err))
		} else {
			log = logger.InitializeWithWriter(cfg.Env, cfg.ServiceName, cwLogs)
		}
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	// --- 2. Infrastructure ---
	db, err := database.ConnectPostgres(rootCtx, cfg.DSN(), log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	var deduper services.NotificationDeduper = services.NopDeduper{}
	redisClient, err := database.ConnectRedis(rootCtx, cfg.RedisURL)
	if err != nil {
		log.Warn("Redis unavailable, webhook dedupe disabled", zap.Error(err))
	} else if redisClient != nil {
		deduper = services.NewRedisDeduper(redisClient, cfg.WebhookDedupeTTL)
		log.Info("Webhook dedupe backed by Redis")
	}

	store, err := newObjectStore(rootCtx, cfg, awsCfg)
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.String("provider", cfg.StorageProvider), zap.Error(err))
	}

	metricsClient := aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchMetrics)

	var producer kafka.ProducerAPI
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	}
	var snsClient aws_pkg.SNSPublisher
	if cfg.SNSTopicARN != "" {
		snsClient = aws_pkg.NewSNSClient(awsCfg, "order.status_changed", log)
	}
	publisher := services.NewStatusPublisher(snsClient, cfg.SNSTopicARN, producer, log)

	// --- 3. Dependency Injection ---
	photoRepo := repository.NewGormPhotoRepository(db)
	orderRepo := repository.NewGormOrderRepository(db)
	customerRepo := repository.NewGormCustomerRepository(db)
	watermarkRepo := repository.NewGormWatermarkRepository(db)
	settingsRepo := repository.NewGormSettingsRepository(db)

	gateway := providers.NewMercadoPagoProvider(cfg.MPAccessToken, cfg.MPNotificationURL)

	signer := services.NewSigningService(store, cfg.AllowUnsignedFallback, metricsClient, log)
	settingsService := services.NewSettingsService(settingsRepo, log)
	uploadService := services.NewUploadService(store, signer, photoRepo, watermarkRepo,
		services.UploadConfig{FailOpen: cfg.WatermarkFailOpen, BatchDelay: cfg.UploadBatchDelay}, metricsClient, log)
	orderService := services.NewOrderService(orderRepo, customerRepo, photoRepo, settingsService, gateway, metricsClient, log)
	paymentService := services.NewPaymentService(orderRepo, gateway, deduper, publisher, metricsClient, log)
	deliveryService := services.NewDeliveryService(orderRepo, signer, metricsClient, log)
	lookupService := services.NewLookupService(customerRepo, orderRepo, log)

	ctrls := routes.Controllers{
		Upload:   controllers.NewUploadController(uploadService, signer, cfg.MaxUploadBytes, log),
		Order:    controllers.NewOrderController(orderService, paymentService),
		Lookup:   controllers.NewLookupController(lookupService),
		Delivery: controllers.NewDeliveryController(deliveryService),
		Webhook:  controllers.NewWebhookController(paymentService, cfg.MPWebhookSecret, log),
		Settings: controllers.NewSettingsController(settingsService),
	}

	// --- 4. HTTP Server & Middleware ---
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.MaxMultipartMemory = 32 << 20
	r.Use(apperrors.ErrorMiddleware(log))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.New(middleware.CORSConfig(cfg.AllowedOrigins)))
	r.Use(middleware.MetricsMiddleware(metricsClient, cfg.ServiceName))

	requestTimeout := cfg.RequestTimeout
	r.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	publicLimit := middleware.RateLimitMiddleware(rootCtx, cfg.LookupRatePerMinute, cfg.LookupBurst)
	routes.RegisterRoutes(r, ctrls, auth.NewTokenParser(cfg.JWTSecret), publicLimit)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	// --- 5. Graceful Shutdown ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("FotoFacil backend starting",
			zap.String("port", cfg.Port),
			zap.String("storage", cfg.StorageProvider),
			zap.Bool("watermark_fail_open", cfg.WatermarkFailOpen),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down FotoFacil backend...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error("Failed to close Kafka producer", zap.Error(err))
		}
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Error("Failed to close storage client", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Failed to close Redis", zap.Error(err))
		}
	}
	if err := database.Close(db); err != nil {
		log.Error("Failed to close database", zap.Error(err))
	}

	log.Info("FotoFacil backend stopped gracefully")
}

func newObjectStore(ctx context.Context, cfg *config.Config, awsCfg sdkaws.Config) (services.ObjectStore, error) {
	if cfg.StorageProvider == config.StorageS3 {
		return aws_pkg.NewS3Storage(awsCfg, cfg.S3Bucket, cfg.S3PublicBaseURL), nil
	}
	account, err := gcp.ParseServiceAccountJSON([]byte(cfg.GCPServiceAccountJSON))
	if err != nil {
		return nil, err
	}
	return gcp.NewStorage(ctx, cfg.GCSBucket, account)
}
