package config

import (
	"context"
	"database/sql"
	"fmt"
	"path"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/fraudrules/rules"
)

// OpenMedium connects the configured storage backend. The returned close
// function releases any connection and is never nil.
func OpenMedium(ctx context.Context, cfg *Config) (rules.Medium, func() error, error) {
	noop := func() error { return nil }

	switch cfg.StorageBackend {
	case BackendMemory:
		return rules.NewMemoryMedium(), noop, nil

	case BackendFile:
		m, err := rules.NewFileMedium(cfg.StorageFile)
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil

	case BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("failed to ping database: %w", err)
		}
		return rules.NewPostgresMedium(db, cfg.StorageSlot), db.Close, nil

	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("failed to ping redis: %w", err)
		}
		return rules.NewRedisMedium(client, cfg.StorageSlot), client.Close, nil

	case BackendS3:
		client, err := rules.NewS3Client(ctx, rules.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, noop, err
		}
		key := path.Join("slots", cfg.StorageSlot+".json")
		return rules.NewS3Medium(client, cfg.S3Bucket, key), noop, nil
	}

	return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
