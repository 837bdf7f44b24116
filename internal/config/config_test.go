package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalEnv(overrides map[string]string) envconfig.Lookuper {
	env := map[string]string{
		"JWT_AUDIENCE":        "test-audience",
		"JWT_ISSUER_URL":      "https://issuer.example.com/",
		"CHALLENGE_CLIENT_ID": "client-1",
	}
	for k, v := range overrides {
		env[k] = v
	}
	return envconfig.MapLookuper(env)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(context.Background(), minimalEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "bearer", cfg.Cache.KeyStrategy)
	assert.Equal(t, 45*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10000, cfg.Cache.MaxEntries)
	assert.Equal(t, 10*time.Second, cfg.Cache.LockTimeout)
	assert.False(t, cfg.Cache.StrictReads)
	assert.Equal(t, []string{"user.read"}, cfg.Challenge.DownstreamScopes)
	assert.False(t, cfg.Observe.Enabled)
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"JWT_AUDIENCE":   "test-audience",
		"JWT_ISSUER_URL": "https://issuer.example.com/",
		// CHALLENGE_CLIENT_ID absent
	}))
	require.Error(t, err)
	assert.ErrorContains(t, err, "CHALLENGE_CLIENT_ID")
}

func TestLoad_FileBackend(t *testing.T) {
	cfg, err := load(context.Background(), minimalEnv(map[string]string{
		"CACHE_TYPE":                   "file",
		"CACHE_FILE_DIRECTORY":         "/var/cache/tokens",
		"CACHE_ENCRYPTION_KEYSET_FILE": "/etc/cachebridge/keyset.json",
	}))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Cache.Type)
	assert.Equal(t, "/var/cache/tokens", cfg.Cache.File.Directory)
}

func TestCacheConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown backend type",
			env:     map[string]string{"CACHE_TYPE": "memcached"},
			wantErr: "invalid cache type",
		},
		{
			name:    "unknown key strategy",
			env:     map[string]string{"CACHE_KEY_STRATEGY": "tenant"},
			wantErr: "invalid cache key strategy",
		},
		{
			name:    "file backend requires a directory",
			env:     map[string]string{"CACHE_TYPE": "file", "CACHE_ENCRYPTION_KEYSET_FILE": "/k.json"},
			wantErr: "CACHE_FILE_DIRECTORY",
		},
		{
			name: "file backend requires a keyset",
			env: map[string]string{
				"CACHE_TYPE":           "file",
				"CACHE_FILE_DIRECTORY": "/var/cache/tokens",
			},
			wantErr: "CACHE_ENCRYPTION_KEYSET_FILE or CACHE_ENCRYPTION_KEYSET_URI",
		},
		{
			name:    "session backend requires an authentication key",
			env:     map[string]string{"CACHE_TYPE": "session"},
			wantErr: "CACHE_SESSION_AUTH_KEY",
		},
		{
			name:    "sql backend requires a DSN",
			env:     map[string]string{"CACHE_TYPE": "sql"},
			wantErr: "CACHE_SQL_DSN",
		},
		{
			name:    "valkey backend requires an address",
			env:     map[string]string{"CACHE_TYPE": "valkey"},
			wantErr: "CACHE_VALKEY_ADDRESS",
		},
		{
			name:    "enabled encryption requires a keyset",
			env:     map[string]string{"CACHE_ENCRYPTION_ENABLED": "true"},
			wantErr: "CACHE_ENCRYPTION_KEYSET_FILE or CACHE_ENCRYPTION_KEYSET_URI",
		},
		{
			name: "KMS keyset requires an envelope key",
			env: map[string]string{
				"CACHE_ENCRYPTION_ENABLED":    "true",
				"CACHE_ENCRYPTION_KEYSET_URI": "aws-secretsmanager://cachebridge-keyset",
			},
			wantErr: "CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(context.Background(), minimalEnv(tc.env))
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoad_ValkeyBackend(t *testing.T) {
	cfg, err := load(context.Background(), minimalEnv(map[string]string{
		"CACHE_TYPE":           "valkey",
		"CACHE_VALKEY_ADDRESS": "valkey.internal:6379",
		"CACHE_VALKEY_TLS":     "false",
	}))
	require.NoError(t, err)
	assert.Equal(t, "valkey.internal:6379", cfg.Cache.Valkey.Address)
	assert.False(t, cfg.Cache.Valkey.TLS)
}
