package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Sternrassler/redash-extract/internal/config"
	"github.com/Sternrassler/redash-extract/internal/report"
	"github.com/Sternrassler/redash-extract/pkg/cache"
	"github.com/Sternrassler/redash-extract/pkg/client"
	"github.com/Sternrassler/redash-extract/pkg/credentials"
	"github.com/Sternrassler/redash-extract/pkg/logging"
	"github.com/Sternrassler/redash-extract/pkg/metrics"
	"github.com/Sternrassler/redash-extract/pkg/pagination"
	"github.com/Sternrassler/redash-extract/pkg/publish"
	"github.com/Sternrassler/redash-extract/pkg/ratelimit"
	"github.com/Sternrassler/redash-extract/pkg/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app holds the query client and what it owns.
type app struct {
	client *client.Client
	cache  *cache.Manager
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	apiKey, err := credentialProvider(cfg.Redash).Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve api key: %w", err)
	}

	a := &app{}
	clientCfg := clientConfig(cfg, apiKey)

	if cfg.Cache.Enabled() {
		manager, err := openCache(ctx, cfg.Cache.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("Result cache unavailable, continuing without it")
		} else {
			a.cache = manager
			clientCfg.Cache = manager
		}
	}

	c, err := client.New(clientCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = c
	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
}

// credentialProvider prefers a configured key over the credential sheet.
func credentialProvider(cfg config.RedashConfig) credentials.Provider {
	if cfg.APIKey != "" {
		return credentials.Static(cfg.APIKey)
	}
	return credentials.NewSheet(cfg.CredentialSheetURL, cfg.CredentialKind)
}

func openCache(ctx context.Context, url string) (*cache.Manager, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return cache.NewManager(rdb), nil
}

func clientConfig(cfg *config.Config, apiKey string) client.Config {
	cc := client.DefaultConfig(cfg.Redash.BaseURL, apiKey)
	cc.HTTPTimeout = cfg.Redash.HTTPTimeout
	cc.Submit = retry.Fixed("submit", cfg.Retry.SubmitAttempts, cfg.Retry.SubmitDelay)
	cc.Poll = retry.Policy{
		Name:        "poll",
		MaxAttempts: cfg.Retry.PollAttempts,
		Delay:       cfg.Retry.PollDelay,
		RetryIf:     retry.Never,
	}
	cc.Query = retry.Fixed("query", cfg.Retry.QueryAttempts, cfg.Retry.QueryDelay)
	cc.Limiter = ratelimit.New(cfg.Redash.RateLimit, cfg.Redash.RateBurst, logging.NewLogger("ratelimit"))
	cc.CacheTTL = cfg.Cache.TTL
	return cc
}

func fetcherConfig(cfg config.ReportConfig) pagination.Config {
	return pagination.Config{
		CountField:  cfg.CountField,
		StartParam:  cfg.StartParam,
		EndParam:    cfg.EndParam,
		OffsetParam: cfg.OffsetParam,
		LimitParam:  cfg.LimitParam,
	}
}

func reportConfig(cfg config.ReportConfig) report.Config {
	return report.Config{
		Monthly:      paginatedQuery(cfg.Monthly),
		Daily:        paginatedQuery(cfg.Daily),
		Days:         cfg.Days,
		LookbackDays: cfg.LookbackDays,
		Partitions:   cfg.Partitions,
		Pause:        cfg.Pause,
		OutputDir:    cfg.OutputDir,
		DailyFile:    cfg.DailyFile,
		MonthlyFile:  cfg.MonthlyFile,
	}
}

func paginatedQuery(q config.PaginatedQuery) report.Query {
	return report.Query{
		CountQueryID: client.QueryID(q.CountQuery),
		PageQueryID:  client.QueryID(q.PageQuery),
		PageSize:     q.PageSize,
	}
}

func publishConfig(cfg config.PublishConfig) publish.Config {
	return publish.Config{
		Backend: cfg.Backend,
		Prefix:  cfg.Prefix,
		Local:   publish.LocalConfig{Dir: cfg.Local.Dir},
		Drive: publish.DriveConfig{
			FolderID:        cfg.Drive.FolderID,
			CredentialsFile: cfg.Drive.CredentialsFile,
			CredentialsJSON: cfg.Drive.CredentialsJSON,
		},
		GCS: publish.GCSConfig{
			Bucket:          cfg.GCS.Bucket,
			CredentialsFile: cfg.GCS.CredentialsFile,
		},
		S3: publish.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		},
		Azure: publish.AzureConfig{
			AccountName: cfg.Azure.AccountName,
			AccountKey:  cfg.Azure.AccountKey,
			Container:   cfg.Azure.Container,
			ServiceURL:  cfg.Azure.ServiceURL,
		},
		MinIO: publish.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Region:    cfg.MinIO.Region,
			UseSSL:    cfg.MinIO.UseSSL,
		},
	}
}

// pushMetrics pushes to the Pushgateway when one is configured. Failures
// are logged only.
func pushMetrics(ctx context.Context, cfg config.MetricsConfig) {
	if cfg.PushgatewayURL == "" {
		return
	}
	grouping := map[string]string{}
	if host, err := os.Hostname(); err == nil {
		grouping["instance"] = host
	}
	err := metrics.Push(context.WithoutCancel(ctx), metrics.PushConfig{
		URL:      cfg.PushgatewayURL,
		Job:      cfg.Job,
		Grouping: grouping,
		Timeout:  defaultPushTimeout,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Metrics push failed")
	}
}
