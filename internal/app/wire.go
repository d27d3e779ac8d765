package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tickbot/internal/blob/s3"
	"github.com/alanyoungcy/tickbot/internal/cache/redis"
	"github.com/alanyoungcy/tickbot/internal/config"
	"github.com/alanyoungcy/tickbot/internal/domain"
	"github.com/alanyoungcy/tickbot/internal/notify"
	"github.com/alanyoungcy/tickbot/internal/server/handler"
	"github.com/alanyoungcy/tickbot/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure a run can use. Every
// field is nil when its section is disabled.
type Dependencies struct {
	// Journal
	RunStore      domain.RunStore
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Redis
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Object storage
	BlobReader domain.BlobReader
	BlobWriter domain.BlobWriter
	Archiver   domain.ReportArchiver

	Notifier *notify.Notifier

	// Health checks keyed by dependency name.
	Pingers map[string]handler.Pinger
}

// Wire connects every enabled backend and returns a cleanup function that
// releases them in reverse order. A failure part way releases whatever was
// already connected.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	w := &wiring{deps: &Dependencies{Pingers: make(map[string]handler.Pinger)}}

	steps := []struct {
		name    string
		enabled bool
		connect func(context.Context, *config.Config) error
	}{
		{"postgres", cfg.Postgres.Enabled, w.postgres},
		{"redis", cfg.Redis.Enabled, w.redis},
		{"s3", cfg.S3.Enabled, w.s3},
	}
	for _, step := range steps {
		if !step.enabled {
			continue
		}
		if err := step.connect(ctx, cfg); err != nil {
			w.release()
			return nil, nil, fmt.Errorf("wire: %s: %w", step.name, err)
		}
		logger.Info("backend connected", slog.String("backend", step.name))
	}

	if cfg.Notify.Enabled() {
		w.deps.Notifier = notify.NewNotifier(senders(cfg.Notify), cfg.Notify.Events, logger)
	}
	return w.deps, w.release, nil
}

type wiring struct {
	deps    *Dependencies
	closers []func()
}

func (w *wiring) release() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
	w.closers = nil
}

func (w *wiring) postgres(ctx context.Context, cfg *config.Config) error {
	pc := cfg.Postgres
	client, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      pc.DSN,
		Host:     pc.Host,
		Port:     pc.Port,
		Database: pc.Database,
		User:     pc.User,
		Password: pc.Password,
		SSLMode:  pc.SSLMode,
		MaxConns: pc.PoolMaxConns,
		MinConns: pc.PoolMinConns,
	})
	if err != nil {
		return err
	}
	w.closers = append(w.closers, client.Close)

	if pc.RunMigrations {
		if err := client.Migrate(ctx); err != nil {
			return err
		}
	}
	pool := client.Pool()
	w.deps.RunStore = postgres.NewRunStore(pool)
	w.deps.PositionStore = postgres.NewPositionStore(pool)
	if pc.AuditEvents {
		w.deps.AuditStore = postgres.NewAuditStore(pool)
	}
	w.deps.Pingers["postgres"] = client
	return nil
}

func (w *wiring) redis(ctx context.Context, cfg *config.Config) error {
	rc := cfg.Redis
	client, err := redis.New(ctx, redis.ClientConfig{
		Addr:       rc.Addr,
		Password:   rc.Password,
		DB:         rc.DB,
		PoolSize:   rc.PoolSize,
		MaxRetries: rc.MaxRetries,
		TLSEnabled: rc.TLSEnabled,
		KeyPrefix:  rc.KeyPrefix,
	})
	if err != nil {
		return err
	}
	w.closers = append(w.closers, func() { _ = client.Close() })

	w.deps.SignalBus = redis.NewSignalBus(client)
	w.deps.LockManager = redis.NewLockManager(client)
	w.deps.RateLimiter = redis.NewRateLimiter(client)
	if rc.MirrorPrices {
		w.deps.PriceCache = redis.NewPriceCache(client)
	}
	w.deps.Pingers["redis"] = client
	return nil
}

func (w *wiring) s3(ctx context.Context, cfg *config.Config) error {
	sc := cfg.S3
	client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       sc.Endpoint,
		Region:         sc.Region,
		Bucket:         sc.Bucket,
		AccessKey:      sc.AccessKey,
		SecretKey:      sc.SecretKey,
		UseSSL:         sc.UseSSL,
		ForcePathStyle: sc.ForcePathStyle,
	})
	if err != nil {
		return err
	}
	w.deps.BlobReader = s3blob.NewReader(client)
	w.deps.BlobWriter = s3blob.NewWriter(client)
	if sc.ArchiveReports {
		w.deps.Archiver = s3blob.NewReportArchiver(w.deps.BlobWriter, "")
	}
	w.deps.Pingers["s3"] = client
	return nil
}

// senders builds one Sender per configured channel.
func senders(nc config.NotifyConfig) []notify.Sender {
	var out []notify.Sender
	if nc.TelegramToken != "" && nc.TelegramChatID != "" {
		out = append(out, notify.NewTelegramSender(nc.TelegramToken, nc.TelegramChatID))
	}
	if nc.DiscordWebhookURL != "" {
		out = append(out, notify.NewDiscordSender(nc.DiscordWebhookURL))
	}
	return out
}
