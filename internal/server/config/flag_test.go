package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("all flags set", func(t *testing.T) {
		os.Args = []string{"cmd",
			"-a", "127.0.0.1:9090", "-n", "bolt", "-d", "dsn", "-f", "data.db",
			"-k", "65536", "-l", "16", "-i", "30", "-r", "600",
			"-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
		}

		cfg := &Config{}
		parseFlags(cfg)

		assert.Equal(t, "127.0.0.1:9090", cfg.EndpointAddr)
		assert.Equal(t, EngineBolt, cfg.Engine)
		assert.Equal(t, "dsn", cfg.DatabaseDSN)
		assert.Equal(t, "data.db", cfg.BoltPath)
		assert.Equal(t, int64(65536), cfg.ChunkSize)
		assert.Equal(t, int64(16), cfg.ChunkCountLimit)
		assert.Equal(t, 30*time.Second, cfg.CleanupInterval)
		assert.Equal(t, 600*time.Second, cfg.IncompleteRetention)
		assert.Equal(t, "user", cfg.S3RootUser)
		assert.Equal(t, "password", cfg.S3RootPassword)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "us-west-1", cfg.S3Region)
		assert.Equal(t, "http://endpoint", cfg.S3BaseEndpoint)
	})

	t.Run("no flags keeps existing values", func(t *testing.T) {
		os.Args = []string{"cmd"}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseFlags(cfg)

		assert.Equal(t, ":12321", cfg.EndpointAddr)
		assert.Equal(t, EnginePostgres, cfg.Engine)
		assert.Equal(t, 60*time.Second, cfg.CleanupInterval)
		assert.Equal(t, 1*time.Hour, cfg.IncompleteRetention)
	})

	t.Run("unknown flags are ignored", func(t *testing.T) {
		os.Args = []string{"cmd", "-z", "zzz", "-a", "host:1"}

		cfg := &Config{}
		parseFlags(cfg)

		assert.Equal(t, "host:1", cfg.EndpointAddr)
	})
}
