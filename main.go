package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"report-intake-service/cache"
	"report-intake-service/cloudinary"
	"report-intake-service/config"
	"report-intake-service/database"
	"report-intake-service/detector"
	"report-intake-service/handlers"
	"report-intake-service/metrics"
	"report-intake-service/middleware"
	"report-intake-service/rabbitmq"
	"report-intake-service/service"
)

func main() {
	// Load configuration
	cfg := config.Load()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	// A missing detector key is not fatal: classification surfaces it
	// as a service error on first use instead of crashing the process.
	if cfg.DetectorAPIKey == "" {
		log.Println("WARNING: DETECTOR_API_KEY is not set, classifications will fail")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}

	// Metrics
	metrics.Register()

	// Verdict cache and classification gateway
	verdicts := cache.New()
	defer verdicts.Stop()
	classifier := detector.NewClient(
		cfg.DetectorEndpoint,
		cfg.DetectorAPIKey,
		cfg.DetectorModelURL,
		cfg.DetectorModel,
		cfg.DetectorTimeout,
		cfg.VerdictCacheTTL,
		verdicts,
	)

	// Asset host
	assets := cloudinary.NewClient(
		cfg.CloudinaryCloudName,
		cfg.CloudinaryAPIKey,
		cfg.CloudinaryAPISecret,
		cfg.CloudinaryFolder,
		cfg.UploadTimeout,
	)

	// Optional RabbitMQ publisher; submissions work without it.
	var publisher service.Publisher
	if cfg.AMQPURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPReportRoutingKey)
		if err != nil {
			log.Printf("Failed to initialize RabbitMQ publisher: %v", err)
		} else {
			defer p.Close()
			publisher = p
		}
	}

	// Submission service and handlers
	submitService := service.NewService(classifier, assets, db, publisher)
	h := handlers.NewHandlers(submitService, classifier)

	// Setup HTTP server
	router := gin.Default()
	router.Use(middleware.CORSMiddleware())

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api", middleware.AuthMiddleware(cfg.JWTSecret))
	{
		api.POST("/report", h.SubmitReport)
		api.POST("/report/classify", h.ClassifyImage)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
