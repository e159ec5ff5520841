package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/drip-engine/internal/api"
	"github.com/ignite/drip-engine/internal/bootstrap"
	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/pkg/clock"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/repository/postgres"
	"github.com/ignite/drip-engine/internal/service/campaign"
	"github.com/ignite/drip-engine/internal/service/enrollment"
	"github.com/ignite/drip-engine/internal/storage"
	"github.com/ignite/drip-engine/internal/tracking"
)

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func main() {
	log.Println("Starting drip engine API server...")

	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Redact()); err != nil {
		log.Printf("[config] %v", err)
	}
	stepping, err := cfg.Dispatcher.SteppingPolicy()
	if err != nil {
		log.Fatalf("Invalid stepping policy: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := bootstrap.OpenDB(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	redisClient := bootstrap.OpenRedis(ctx, cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	clk := clock.Real{}
	campaignRepo := postgres.NewCampaignRepo(db)
	campaigns := campaign.NewService(campaignRepo, clk)
	enrollments := enrollment.NewService(postgres.NewEnrollmentRepo(db), campaignRepo, clk, stepping)

	handlers := api.NewHandlers(campaigns, enrollments)
	snapshots, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Printf("Warning: snapshot storage unavailable: %v", err)
	} else if snapshots != nil {
		handlers.SetSnapshots(snapshots)
	}

	var trackingRoutes http.Handler
	if cfg.Tracking.LinksEnabled() {
		links := &tracking.Links{BaseURL: cfg.Tracking.LinkBaseURL, Secret: []byte(cfg.Tracking.LinkSecret)}
		var sink tracking.EventSink = tracking.DirectSink{Enrollments: enrollments, Deliveries: campaigns}
		if cfg.Tracking.Enabled && cfg.Tracking.QueueURL != "" {
			sqsClient, err := bootstrap.NewSQSClient(ctx, cfg.Tracking.Region, cfg.SES.AccessKey, cfg.SES.SecretKey)
			if err != nil {
				log.Fatalf("Failed to create SQS client: %v", err)
			}
			sink = tracking.NewPublisher(sqsClient, cfg.Tracking.QueueURL)
			log.Printf("Tracking links publish to SQS (%s)", cfg.Tracking.QueueURL)
		}
		trackingRoutes = tracking.NewHandler(links, sink).Routes()
		log.Printf("Tracking links enabled at %s/track", cfg.Tracking.LinkBaseURL)
	}

	router := api.SetupRoutes(handlers, api.NewHealthChecker(db, redisClient), cfg.Server.CORSOrigins, trackingRoutes)
	server := api.NewServer(router)

	go func() {
		addr := cfg.Server.Addr()
		log.Printf("Listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
