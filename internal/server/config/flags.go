package config

import (
	"flag"
	"os"
	"time"

	"github.com/skystar-p/hako/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":12321")
//	-n string   storage engine, "postgres" or "bolt"
//	-d string   PostgreSQL DSN
//	-f string   bolt database file path
//	-k int      maximum plaintext chunk size in bytes
//	-l int      chunk count limit per file
//	-i int      cleanup sweep interval, seconds
//	-r int      incomplete upload retention, seconds
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name (enables chunk offload when set)
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-n", "-d", "-f", "-k", "-l", "-i", "-r", "-u", "-p", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.Engine, "n", config.Engine, "storage engine (postgres|bolt)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BoltPath, "f", config.BoltPath, "bolt database file path")

	fs.Int64Var(&config.ChunkSize, "k", config.ChunkSize, "max plaintext chunk size (bytes)")
	fs.Int64Var(&config.ChunkCountLimit, "l", config.ChunkCountLimit, "chunk count limit per file")

	cleanupInterval := fs.Int("i", int(config.CleanupInterval.Seconds()), "cleanup sweep interval (in seconds)")
	incompleteRetention := fs.Int("r", int(config.IncompleteRetention.Seconds()), "incomplete upload retention (in seconds)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.CleanupInterval = time.Duration(*cleanupInterval) * time.Second
	config.IncompleteRetention = time.Duration(*incompleteRetention) * time.Second
}
