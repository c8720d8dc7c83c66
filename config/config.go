package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the connection service.
type Config struct {
	Environment    string        `env:"SERVICE_ENVIRONMENT,default=development"`
	Addr           string        `env:"HTTP_ADDR,default=:5200"`
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	GatewayToken   string        `env:"GATEWAY_TOKEN"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	QueryTimeout   time.Duration `env:"DB_QUERY_TIMEOUT,default=5s"`

	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX,default=pocp"`

	R2 R2Config

	ExportInterval        time.Duration `env:"ATTESTATION_EXPORT_INTERVAL,default=15m"`
	AttestationEventType  string        `env:"ATTESTATION_EVENT_TYPE,default=IN_PERSON"`
	StandingsPollInterval time.Duration `env:"STANDINGS_STREAM_INTERVAL,default=2s"`
}

// R2Config points at the S3-compatible bucket that receives attestation snapshots.
type R2Config struct {
	AccountID       string `env:"R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	Endpoint        string `env:"R2_ENDPOINT"`
}

// Enabled reports whether snapshot export has somewhere to write.
func (r R2Config) Enabled() bool {
	return r.Bucket != ""
}

// ResolvedEndpoint returns the explicit endpoint or the Cloudflare one for the account.
func (r R2Config) ResolvedEndpoint() string {
	if r.Endpoint != "" {
		return r.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r.AccountID)
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.QueryTimeout <= 0 {
		errs = append(errs, errors.New("DB_QUERY_TIMEOUT must be positive"))
	}
	if c.ExportInterval <= 0 {
		errs = append(errs, errors.New("ATTESTATION_EXPORT_INTERVAL must be positive"))
	}
	if c.StandingsPollInterval <= 0 {
		errs = append(errs, errors.New("STANDINGS_STREAM_INTERVAL must be positive"))
	}
	if c.R2.Enabled() && (c.R2.AccessKeyID == "" || c.R2.AccessKeySecret == "") {
		errs = append(errs, errors.New("R2_BUCKET_NAME set without R2 credentials"))
	}
	if c.R2.Enabled() && c.R2.AccountID == "" && c.R2.Endpoint == "" {
		errs = append(errs, errors.New("R2_BUCKET_NAME set without R2_ACCOUNT_ID or R2_ENDPOINT"))
	}
	return errors.Join(errs...)
}
