// Package bootstrap builds the runtime dependencies shared by the binaries
// from their env config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"fax/internal/awsutil"
	"fax/internal/config"
	"fax/internal/dispatch"
	"fax/internal/media"
	"fax/internal/notify"
	"fax/internal/providers/telnyx"
	"fax/internal/ratelimit"
	"fax/internal/service"
	"fax/internal/store/pg"
	"fax/internal/store/sqlite"
	"fax/internal/webhook"
)

// Store is everything the service, dispatcher and webhook guard need from
// persistence, plus a readiness probe.
type Store interface {
	service.Store
	dispatch.Store
	webhook.Store
	Ping(ctx context.Context) error
}

// IsPostgres reports whether url selects the pgx store.
func IsPostgres(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// SQLitePath strips the optional sqlite:// prefix.
func SQLitePath(url string) string {
	return strings.TrimPrefix(url, "sqlite://")
}

// OpenStore connects to Postgres or SQLite depending on DATABASE_URL. The
// returned func releases the connection.
func OpenStore(ctx context.Context, cfg config.DBConfig, log *slog.Logger) (Store, func(), error) {
	if IsPostgres(cfg.DatabaseURL) {
		if cfg.AutoMigrate {
			version, err := pg.Migrate(cfg.DatabaseURL, cfg.MigrationsSource)
			if err != nil {
				return nil, nil, err
			}
			log.Info("migrations applied", "version", version)
		}
		pool, err := pg.NewPool(ctx, cfg.DatabaseURL, pg.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, nil, err
		}
		return pg.New(pool), pool.Close, nil
	}

	path := SQLitePath(cfg.DatabaseURL)
	if path == "" {
		return nil, nil, errors.New("empty DATABASE_URL")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	st, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// NewLimiter shares windows through Redis when REDIS_URL is set, else keeps
// them in process.
func NewLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewSlidingWindow(), func() {}, nil
	}
	r, err := ratelimit.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}

func NewMedia(ctx context.Context, cfg config.MediaConfig) (media.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return media.NewLocal(cfg.UploadsDir, cfg.PublicBaseURL, cfg.AppSecretKey)
	case "s3":
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		client, err := awsutil.NewS3Client(ctx, region, cfg.S3Endpoint, awsutil.StaticKeys{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return media.NewS3(client, cfg.S3Bucket, cfg.S3Prefix, cfg.S3PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.Backend)
	}
}

// NewProvider returns the in-process mock when MOCK_PROVIDERS is on. Live
// mode refuses to start without credentials.
func NewProvider(cfg config.TelnyxConfig) (dispatch.Provider, error) {
	if cfg.MockProviders {
		return &telnyx.Mock{}, nil
	}
	c := &telnyx.Client{
		APIKey:            cfg.APIKey,
		ConnectionID:      cfg.ConnectionID,
		FromNumber:        cfg.FromNumber,
		BaseURL:           cfg.BaseURL,
		HTTP:              &http.Client{Timeout: cfg.ProviderTimeout},
		RequireHTTPSMedia: cfg.RequireHTTPSMedia,
	}
	if !c.Configured() {
		return nil, errors.New("telnyx live mode needs TELNYX_API_KEY, TELNYX_CONNECTION_ID and TELNYX_FROM_NUMBER")
	}
	return c, nil
}

// NewNotifier chains Resend ahead of SMTP. Unconfigured transports are left out.
func NewNotifier(cfg config.NotifyConfig, log *slog.Logger) *notify.Chain {
	var senders []notify.Sender
	if cfg.ResendAPIKey != "" {
		from := cfg.ResendFromEmail
		if from == "" {
			from = cfg.SMTPFromEmail
		}
		senders = append(senders, &notify.Resend{APIKey: cfg.ResendAPIKey, From: from, BaseURL: cfg.ResendBaseURL})
	}
	if cfg.SMTPHost != "" {
		senders = append(senders, &notify.SMTP{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFromEmail,
		})
	}
	return notify.NewChain(log, senders...)
}

// NewVerifier returns nil when no public key is configured.
func NewVerifier(cfg config.TelnyxConfig) (webhook.Verifier, error) {
	if strings.TrimSpace(cfg.WebhookPublicKey) == "" {
		return nil, nil
	}
	v, err := telnyx.NewVerifier(cfg.WebhookPublicKey, cfg.WebhookTolerance)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func NewDispatcher(st Store, provider dispatch.Provider, notifier dispatch.Notifier, cfg config.TelnyxConfig, log *slog.Logger) *dispatch.Dispatcher {
	d := dispatch.New(st, provider, notifier, log)
	if cfg.ProviderTimeout > 0 {
		d.CallTimeout = cfg.ProviderTimeout
	}
	return d
}

// NewGuard wires webhook ingestion onto the store and dispatcher.
func NewGuard(st Store, d *dispatch.Dispatcher, cfg config.TelnyxConfig, log *slog.Logger) (*webhook.Guard, error) {
	v, err := NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	if v == nil {
		log.Warn("webhook signature verification disabled", "reason", "TELNYX_WEBHOOK_PUBLIC_KEY unset")
	}
	return &webhook.Guard{Store: st, Applier: d, Log: log, Verifier: v}, nil
}
