package store

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
	"github.com/valkey-io/valkey-go"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cachebridge/cachebridge/internal/config"
	"github.com/cachebridge/cachebridge/internal/store/encryption"
)

// NewFromConfig creates a blob store implementation based on the provided
// configuration. It returns the store and any error encountered.
//
// The cache type must be one of "memory", "file", "session", "sql" or
// "valkey". Any other value returns an error.
func NewFromConfig(ctx context.Context, cacheConfig config.CacheConfig) (BlobStore, error) {
	strategy, err := newEncryptionStrategy(ctx, cacheConfig)
	if err != nil {
		return nil, err
	}

	switch cacheConfig.Type {
	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Dur("ttl", cacheConfig.TTL).
			Msg("initializing in-memory cache store")

		memory, err := NewMemory(cacheConfig.TTL, cacheConfig.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory store: %w", err)
		}

		return NewInstrumented(memory, "memory"), nil

	case "file":
		log.Info().
			Str("cache_type", "file").
			Str("directory", cacheConfig.File.Directory).
			Msg("initializing encrypted file cache store")

		if strategy == nil {
			return nil, fmt.Errorf("file store requires encryption keyset configuration")
		}

		file, err := NewFile(cacheConfig.File.Directory, strategy)
		if err != nil {
			return nil, fmt.Errorf("failed to create file store: %w", err)
		}

		return NewInstrumented(file, "file"), nil

	case "session":
		log.Info().
			Str("cache_type", "session").
			Str("session_name", cacheConfig.Session.Name).
			Msg("initializing session cache store")

		cookieStore := sessions.NewCookieStore([]byte(cacheConfig.Session.AuthenticationKey))
		cookieStore.Options.HttpOnly = true
		cookieStore.Options.Secure = true

		session, err := NewSession(cookieStore, cacheConfig.Session.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create session store: %w", err)
		}

		return NewInstrumented(session, "session"), nil

	case "sql":
		log.Info().
			Str("cache_type", "sql").
			Str("driver", cacheConfig.SQL.Driver).
			Bool("encrypted", strategy != nil).
			Msg("initializing sql cache store")

		db, err := openDatabase(cacheConfig.SQL)
		if err != nil {
			return nil, err
		}

		sql, err := NewSQL(db, strategy)
		if err != nil {
			return nil, fmt.Errorf("failed to create sql store: %w", err)
		}

		return NewInstrumented(sql, "sql"), nil

	case "valkey":
		log.Info().
			Str("cache_type", "valkey").
			Str("address", cacheConfig.Valkey.Address).
			Bool("tls", cacheConfig.Valkey.TLS).
			Bool("encrypted", strategy != nil).
			Msg("initializing distributed cache store")

		valkeyOpts := valkey.ClientOption{
			InitAddress: []string{cacheConfig.Valkey.Address},
			Username:    cacheConfig.Valkey.Username,
			Password:    cacheConfig.Valkey.Password,
		}

		// Configure TLS if enabled
		if cacheConfig.Valkey.TLS {
			valkeyOpts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		valkeyClient, err := valkey.NewClient(valkeyOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey client: %w", err)
		}

		distributed, err := NewDistributed(valkeyClient, cacheConfig.TTL, strategy)
		if err != nil {
			if strategy != nil {
				_ = strategy.Close()
			}
			valkeyClient.Close()
			return nil, fmt.Errorf("failed to create distributed store: %w", err)
		}

		return NewInstrumented(distributed, "valkey"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q", cacheConfig.Type)
	}
}

// newEncryptionStrategy builds the AEAD strategy when encryption is
// configured. The file backend always encrypts; other backends only when
// the encryption flag is set. Returns nil when encryption is not in use.
func newEncryptionStrategy(ctx context.Context, cacheConfig config.CacheConfig) (EncryptionStrategy, error) {
	if !cacheConfig.Encryption.Enabled && cacheConfig.Type != "file" {
		return nil, nil
	}

	var (
		primitive tink.AEAD
		err       error
	)

	switch {
	case cacheConfig.Encryption.KeysetFile != "":
		primitive, err = encryption.NewAEADFromFile(cacheConfig.Encryption.KeysetFile)
	case cacheConfig.Encryption.KeysetURI != "":
		primitive, err = encryption.NewAEADFromKMS(ctx, cacheConfig.Encryption.KeysetURI, cacheConfig.Encryption.KMSEnvelopeKeyURI)
	default:
		return nil, fmt.Errorf("encryption requires a keyset file or keyset URI")
	}
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}

	log.Info().Msg("cache encryption at rest enabled")

	return NewAEADEncryptionStrategy(primitive), nil
}

func openDatabase(sqlConfig config.SQLStoreConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	switch sqlConfig.Driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(sqlConfig.DSN), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		return db, nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(sqlConfig.DSN), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("opening postgres database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("invalid sql driver %q: must be sqlite or postgres", sqlConfig.Driver)
	}
}
