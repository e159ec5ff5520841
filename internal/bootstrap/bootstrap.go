// Package bootstrap opens the shared connections used by the drip binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/drip-engine/internal/config"
)

// OpenDB connects to PostgreSQL, applies pool limits and pings.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required (set DATABASE_URL)")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Lifetime())
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenRedis returns nil when url is empty or the server does not answer,
// so callers fall back to Postgres advisory locks and uncached lookups.
func OpenRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		log.Println("Redis not configured (REDIS_URL not set), using PG advisory locks")
		return nil
	}
	var client *redis.Client
	if opts, err := redis.ParseURL(url); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: url})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v, falling back to PG advisory locks", err)
		client.Close()
		return nil
	}
	log.Println("Redis connected (distributed locking enabled)")
	return client
}

// NewSQSClient builds an SQS client for region. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
func NewSQSClient(ctx context.Context, region, accessKey, secretKey string) (*sqs.Client, error) {
	awsCfg, err := loadAWS(ctx, region, accessKey, secretKey)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(awsCfg), nil
}

func loadAWS(ctx context.Context, region, accessKey, secretKey string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}
