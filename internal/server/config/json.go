package config

import (
	"encoding/json"
	"os"

	"github.com/skystar-p/hako/internal/flagx"
	"github.com/skystar-p/hako/internal/timex"
)

// JsonConfig is the intermediate DTO used only for reading JSON
// configuration files. It uses timex.Duration for interval fields, which
// allows parsing both string values such as "60s" and integer nanoseconds.
// After unmarshalling, its fields are copied into the runtime Config.
type JsonConfig struct {
	EndpointAddr        string         `json:"endpoint_addr"`
	Engine              string         `json:"engine"`
	DatabaseDSN         string         `json:"database_dsn"`
	BoltPath            string         `json:"bolt_path"`
	ChunkSize           int64          `json:"chunk_size"`
	ChunkCountLimit     int64          `json:"chunk_count_limit"`
	CleanupInterval     timex.Duration `json:"cleanup_interval"`
	IncompleteRetention timex.Duration `json:"incomplete_retention"`
	S3RootUser          string         `json:"s3_root_user"`
	S3RootPassword      string         `json:"s3_root_password"`
	S3Bucket            string         `json:"s3_bucket"`
	S3Region            string         `json:"s3_region"`
	S3BaseEndpoint      string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flags; when
// neither is set, no JSON file is loaded. An unreadable or invalid file
// panics, since starting with half-applied config is worse than not
// starting.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.Engine = c.Engine
	config.DatabaseDSN = c.DatabaseDSN
	config.BoltPath = c.BoltPath
	config.ChunkSize = c.ChunkSize
	config.ChunkCountLimit = c.ChunkCountLimit
	config.CleanupInterval = c.CleanupInterval.Duration
	config.IncompleteRetention = c.IncompleteRetention.Duration
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
