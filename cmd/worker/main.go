package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/drip-engine/internal/bootstrap"
	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/mailing"
	"github.com/ignite/drip-engine/internal/pkg/clock"
	"github.com/ignite/drip-engine/internal/pkg/distlock"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/recipient"
	"github.com/ignite/drip-engine/internal/repository/postgres"
	"github.com/ignite/drip-engine/internal/service/campaign"
	"github.com/ignite/drip-engine/internal/service/enrollment"
	"github.com/ignite/drip-engine/internal/storage"
	"github.com/ignite/drip-engine/internal/tracking"
	"github.com/ignite/drip-engine/internal/worker"
)

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func main() {
	log.Println("Starting drip engine worker...")

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

	var stops []func()

	if cfg.Dispatcher.Enabled {
		d := worker.NewDispatcher(enrollments, campaignRepo, newResolver(cfg, redisClient), mailing.NewRenderer(), newMailer(ctx, cfg), dispatcherConfig(cfg))
		d.Start()
		stops = append(stops, d.Stop)
		log.Printf("Dispatcher started (worker=%s, poll=%s, batch=%d, stepping=%s)",
			d.WorkerID(), cfg.Dispatcher.PollInterval(), cfg.Dispatcher.BatchSize, stepping)
	}

	if cfg.Rollup.Enabled {
		snapshots, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize snapshot storage: %v", err)
		}
		lock := distlock.NewLock(redisClient, db, worker.RollupLockKey, cfg.Rollup.LockTTL())
		rw := worker.NewRollupWorker(campaigns, snapshots, lock, cfg.Rollup.Interval(), clk)
		rw.Start()
		stops = append(stops, rw.Stop)
		log.Printf("Rollup worker started (interval=%s, storage=%s)", cfg.Rollup.Interval(), cfg.Storage.Type)
	}

	if cfg.Tracking.Enabled && cfg.Tracking.QueueURL != "" {
		sqsClient, err := bootstrap.NewSQSClient(ctx, cfg.Tracking.Region, cfg.SES.AccessKey, cfg.SES.SecretKey)
		if err != nil {
			log.Fatalf("Failed to create SQS client: %v", err)
		}
		consumer := tracking.NewConsumer(sqsClient, cfg.Tracking.QueueURL, cfg.Tracking.WaitSeconds, enrollments, campaigns)
		consumer.Start(ctx)
		stops = append(stops, consumer.Stop)
	}

	if len(stops) == 0 {
		log.Println("Warning: no workers enabled; check dispatcher, rollup and tracking config")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}
	log.Println("Worker stopped")
}

func dispatcherConfig(cfg *config.Config) worker.DispatcherConfig {
	dc := worker.DispatcherConfig{
		PollInterval: cfg.Dispatcher.PollInterval(),
		BatchSize:    cfg.Dispatcher.BatchSize,
		Lease:        cfg.Dispatcher.Lease(),
		CampaignID:   cfg.Dispatcher.CampaignID,
		WorkerID:     cfg.Dispatcher.WorkerID,
		FromEmail:    cfg.Dispatcher.FromEmail,
		FromName:     cfg.Dispatcher.FromName,
	}
	if cfg.Tracking.LinksEnabled() {
		dc.Tracking = &tracking.Links{BaseURL: cfg.Tracking.LinkBaseURL, Secret: []byte(cfg.Tracking.LinkSecret)}
	}
	return dc
}

func newMailer(ctx context.Context, cfg *config.Config) mailing.Mailer {
	if !cfg.SES.Enabled {
		log.Println("SES disabled, messages are logged instead of sent")
		return mailing.NewLogMailer()
	}
	m, err := mailing.NewSESMailer(ctx, mailing.SESConfig{
		Region:           cfg.SES.Region,
		AccessKey:        cfg.SES.AccessKey,
		SecretKey:        cfg.SES.SecretKey,
		ConfigurationSet: cfg.SES.ConfigurationSet,
	})
	if err != nil {
		log.Fatalf("Failed to create SES mailer: %v", err)
	}
	log.Printf("SES mailer initialized (region=%s)", cfg.SES.Region)
	return m
}

func newResolver(cfg *config.Config, redisClient *redis.Client) recipient.Resolver {
	var r recipient.Resolver
	if cfg.Recipients.DirectoryURL != "" {
		r = recipient.NewHTTPResolver(cfg.Recipients.DirectoryURL, cfg.Recipients.DirectoryToken, nil)
	} else {
		log.Println("Warning: recipients.directory_url not set, every recipient will fail to resolve")
		r = recipient.NewStaticResolver()
	}
	if redisClient != nil {
		r = recipient.NewCachedResolver(r, redisClient, cfg.Recipients.CacheTTL())
	}
	return r
}
