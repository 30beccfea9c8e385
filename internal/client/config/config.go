// Package config handles configuration for the client component.
package config

import (
	"flag"
	"os"

	"github.com/skystar-p/hako/internal/flagx"
)

// Config holds runtime settings for the hako client.
type Config struct {
	// ServerAddr is the base URL of the hako server.
	ServerAddr string
	// ChunkSize is the plaintext block size used when uploading.
	ChunkSize int64
	// Output is the output path for downloads; empty means the decrypted
	// filename in the current directory.
	Output string
}

func (c *Config) LoadDefaults() {
	c.ServerAddr = "http://localhost:12321"
	c.ChunkSize = 1 << 20
	c.Output = ""
}

// LoadConfig builds a Config by applying defaults and then command-line
// flags. Only the flags owned here are parsed; the remaining arguments form
// the command line of the CLI app.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFlags(cfg)
	return cfg
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-s string   server base URL
//	-k int      plaintext chunk size in bytes
//	-o string   output path for downloads
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-s", "-k", "-o"})

	fs := flag.NewFlagSet("client", flag.ContinueOnError)

	fs.StringVar(&config.ServerAddr, "s", config.ServerAddr, "server base URL")
	fs.Int64Var(&config.ChunkSize, "k", config.ChunkSize, "plaintext chunk size (bytes)")
	fs.StringVar(&config.Output, "o", config.Output, "output path for downloads")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
