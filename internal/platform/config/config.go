// Package config loads runtime configuration from the environment, an
// optional .env file, and secret manager references.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultEnvironment          = "local"
	defaultLogLevel             = "info"
	defaultAdminSessionTTL      = 12 * time.Hour
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Stripe      StripeConfig
	Admin       AdminConfig
	Site        SiteConfig
	Events      EventsConfig
	Logging     LoggingConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings for customer auth.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	ContentBucket string
	ExportsBucket string
}

// StripeConfig collects payment provider secrets.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// AdminConfig gates the operations surface.
type AdminConfig struct {
	Passphrase string
	JWTSecret  string
	SessionTTL time.Duration
}

// SiteConfig holds storefront-facing URLs and signing material.
type SiteConfig struct {
	BaseURL string
	// ReferenceSecret signs post-checkout order reference tokens. Falls back
	// to the admin JWT secret when unset.
	ReferenceSecret string
}

// EventsConfig names the Pub/Sub topic for order lifecycle events.
type EventsConfig struct {
	OrderEventsTopic string
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level       string
	Environment string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided
// maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field names recorded by the loader
// (e.g. "Stripe.SecretKey" or "Admin.Passphrase").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	env, err := newEnvSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := configFromEnv(env)

	// Firestore project defaults to the ambient GCP project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Site.ReferenceSecret == "" {
		cfg.Site.ReferenceSecret = cfg.Admin.JWTSecret
	}

	resolved, err := resolveSecretFields(ctx, &cfg, options.secret)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func configFromEnv(env *envSource) Config {
	return Config{
		Server: ServerConfig{
			Port:         env.str("PORT", defaultPort),
			ReadTimeout:  env.duration("SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("GOOGLE_CLOUD_PROJECT", ""),
			CredentialsFile: env.str("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("FIRESTORE_PROJECT_ID", ""),
			DatabaseID:   env.str("FIRESTORE_DATABASE_ID", ""),
			EmulatorHost: env.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ContentBucket: env.str("CONTENT_BUCKET", ""),
			ExportsBucket: env.str("EXPORTS_BUCKET", ""),
		},
		Stripe: StripeConfig{
			SecretKey:     env.str("STRIPE_SECRET_KEY", ""),
			WebhookSecret: env.str("STRIPE_WEBHOOK_SECRET", ""),
		},
		Admin: AdminConfig{
			Passphrase: env.str("ADMIN_PASSPHRASE", ""),
			JWTSecret:  env.str("ADMIN_JWT_SECRET", ""),
			SessionTTL: env.duration("ADMIN_SESSION_TTL", defaultAdminSessionTTL),
		},
		Site: SiteConfig{
			BaseURL:         env.str("SITE_BASE_URL", ""),
			ReferenceSecret: env.str("ORDER_REFERENCE_SECRET", ""),
		},
		Events: EventsConfig{
			OrderEventsTopic: env.str("ORDER_EVENTS_TOPIC", ""),
		},
		Logging: LoggingConfig{
			Level:       strings.ToLower(env.str("LOG_LEVEL", defaultLogLevel)),
			Environment: strings.ToLower(env.str("ENVIRONMENT", defaultEnvironment)),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
}

// validate checks hard requirements only. Stripe and admin secrets stay
// optional here: the affected endpoints fail closed at request time instead
// of blocking unrelated parts of the service from starting.
func (c Config) validate() error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(c.Server.Port != "", "Server.Port")
	require(c.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(c.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(strings.TrimSpace(c.Idempotency.Header) != "", "Idempotency.Header")
	require(c.Idempotency.TTL > 0, "Idempotency.TTL")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
