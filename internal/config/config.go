package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Authorization AuthorizationConfig
	Cache         CacheConfig
	Challenge     ChallengeConfig
	Observe       ObserveConfig
	Server        ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// AuthorizationConfig configures validation of the inbound bearer token.
type AuthorizationConfig struct {
	Audience  string `env:"JWT_AUDIENCE, required"`
	IssuerURL string `env:"JWT_ISSUER_URL, required"`
}

// ChallengeConfig identifies this application to callers that need to
// re-consent after a downstream acquisition failure.
type ChallengeConfig struct {
	ClientID string `env:"CHALLENGE_CLIENT_ID, required"`

	// DownstreamScopes are requested when exchanging the inbound credential
	// for a downstream one, and echoed back in consent challenges.
	DownstreamScopes []string `env:"CHALLENGE_DOWNSTREAM_SCOPES, default=user.read"`
}

// CacheConfig specifies the persistent token cache configuration.
type CacheConfig struct {
	// Type selects the store backend: "memory" (default), "file", "session",
	// "sql" or "valkey".
	Type string `env:"CACHE_TYPE, default=memory"`

	// KeyStrategy selects how cache keys are derived: "application",
	// "account", "session" or "bearer".
	KeyStrategy string `env:"CACHE_KEY_STRATEGY, default=bearer"`

	// TTL bounds the lifetime of entries for backends with expiration
	// (memory, valkey).
	TTL time.Duration `env:"CACHE_TTL, default=45m"`

	// MaxEntries bounds the in-memory backend.
	MaxEntries int `env:"CACHE_MAX_ENTRIES, default=10000"`

	// StrictReads causes store read failures to fail the token operation
	// instead of degrading to an empty cache.
	StrictReads bool `env:"CACHE_STRICT_READS, default=false"`

	// LockTimeout bounds per-key lock acquisition for backends that need
	// application-level locking (file, session).
	LockTimeout time.Duration `env:"CACHE_LOCK_TIMEOUT, default=10s"`

	File       FileStoreConfig
	Session    SessionStoreConfig
	SQL        SQLStoreConfig
	Valkey     ValkeyConfig
	Encryption CacheEncryptionConfig
}

// FileStoreConfig specifies the encrypted local file backend.
type FileStoreConfig struct {
	// Directory holds one cache file per resolved key.
	Directory string `env:"CACHE_FILE_DIRECTORY"`
}

// SessionStoreConfig specifies the HTTP-session-scoped backend.
type SessionStoreConfig struct {
	// Name is the session cookie name.
	Name string `env:"CACHE_SESSION_NAME, default=cachebridge-session"`

	// AuthenticationKey authenticates session cookies. Required for the
	// session backend.
	AuthenticationKey string `env:"CACHE_SESSION_AUTH_KEY"`
}

// SQLStoreConfig specifies the relational backend.
type SQLStoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `env:"CACHE_SQL_DRIVER, default=sqlite"`

	// DSN is the driver-specific connection string.
	DSN string `env:"CACHE_SQL_DSN"`
}

// ValkeyConfig specifies the distributed backend.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"CACHE_VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure
	// option is the default.
	TLS bool `env:"CACHE_VALKEY_TLS, default=true"`

	Username string `env:"CACHE_VALKEY_USERNAME"`
	Password string `env:"CACHE_VALKEY_PASSWORD"`
}

// CacheEncryptionConfig holds settings for encryption of cache blobs at
// rest. The file backend always encrypts; sql and valkey encrypt when
// enabled here.
type CacheEncryptionConfig struct {
	Enabled bool `env:"CACHE_ENCRYPTION_ENABLED, default=false"`

	// KeysetFile is a path to a cleartext Tink keyset in JSON format.
	// Suitable for development and single-host deployments.
	KeysetFile string `env:"CACHE_ENCRYPTION_KEYSET_FILE"`

	// KeysetURI is the URI of a KMS-encrypted Tink keyset.
	// Format: aws-secretsmanager://secret-name
	KeysetURI string `env:"CACHE_ENCRYPTION_KEYSET_URI"`

	// KMSEnvelopeKeyURI is the AWS KMS key URI for envelope encryption.
	// Format: aws-kms://arn:aws:kms:region:account:key/key-id
	KMSEnvelopeKeyURI string `env:"CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=cachebridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the cache configuration is consistent.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "memory", "file", "session", "sql", "valkey":
	default:
		return fmt.Errorf("invalid cache type %q: must be one of memory, file, session, sql, valkey", c.Type)
	}

	switch c.KeyStrategy {
	case "application", "account", "session", "bearer":
	default:
		return fmt.Errorf("invalid cache key strategy %q: must be one of application, account, session, bearer", c.KeyStrategy)
	}

	if c.Type == "file" && c.File.Directory == "" {
		return fmt.Errorf("CACHE_FILE_DIRECTORY required when CACHE_TYPE=file")
	}

	if c.Type == "session" && c.Session.AuthenticationKey == "" {
		return fmt.Errorf("CACHE_SESSION_AUTH_KEY required when CACHE_TYPE=session")
	}

	if c.Type == "sql" && c.SQL.DSN == "" {
		return fmt.Errorf("CACHE_SQL_DSN required when CACHE_TYPE=sql")
	}

	if c.Type == "valkey" && c.Valkey.Address == "" {
		return fmt.Errorf("CACHE_VALKEY_ADDRESS required when CACHE_TYPE=valkey")
	}

	// The file backend always encrypts, so it requires keyset configuration
	// regardless of the enabled flag.
	needsKeyset := c.Encryption.Enabled || c.Type == "file"
	if needsKeyset && c.Encryption.KeysetFile == "" && c.Encryption.KeysetURI == "" {
		return fmt.Errorf("CACHE_ENCRYPTION_KEYSET_FILE or CACHE_ENCRYPTION_KEYSET_URI required when encryption is in use")
	}

	if c.Encryption.KeysetFile == "" && c.Encryption.KeysetURI != "" && c.Encryption.KMSEnvelopeKeyURI == "" {
		return fmt.Errorf("CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI required when using a KMS-encrypted keyset")
	}

	return nil
}
