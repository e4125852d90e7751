package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLFor(t *testing.T) {
	cfg := &CacheConfig{
		DashboardTTL:     300,
		VisualizationTTL: 600,
		QueryTTL:         180,
		DatasetTTL:       900,
		ReportTTL:        120,
	}

	assert.Equal(t, 300, cfg.TTLFor("dashboard"))
	assert.Equal(t, 600, cfg.TTLFor("visualization"))
	assert.Equal(t, 900, cfg.TTLFor("dataset"))
	assert.Equal(t, 120, cfg.TTLFor("report"))
	assert.Equal(t, 180, cfg.TTLFor("query"))
	assert.Equal(t, 180, cfg.TTLFor("something-else"), "unknown kinds fall back to the query TTL")
}

func TestValidateTLS(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "tls.crt")
	key := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0o600))
	require.NoError(t, os.WriteFile(key, []byte("key"), 0o600))

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "no tls", cfg: Config{}},
		{name: "both set and present", cfg: Config{TLSCertPath: cert, TLSKeyPath: key}},
		{name: "cert without key", cfg: Config{TLSCertPath: cert}, wantErr: true},
		{name: "key without cert", cfg: Config{TLSKeyPath: key}, wantErr: true},
		{name: "missing cert file", cfg: Config{TLSCertPath: filepath.Join(dir, "nope.crt"), TLSKeyPath: key}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validateTLS()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConnectionString(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "pulse",
		Password: "s3cret",
		Database: "pulse_engine",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5433 user=pulse password=s3cret dbname=pulse_engine sslmode=require",
		cfg.ConnectionString())
}
