package config

import (
	"os"
	"time"

	"github.com/dmitrijs2005/gophstore/internal/common"
)

// Config holds runtime settings for the transfer engines.
//
// An empty ActivityDSN disables the activity log. LargeDownloadThreshold is
// in bytes.
type Config struct {
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool

	StateDBPath string
	ActivityDSN string

	LogLevel  string
	LogFormat string

	RetryAttempts          int
	RetryBaseDelay         time.Duration
	UploadConcurrency      int
	RestorePollInterval    time.Duration
	RestoreTier            string
	PresignTTL             time.Duration
	LargeDownloadThreshold int64
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.S3Region = "us-east-1"
	c.StateDBPath = "gophstore.db"
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.RetryAttempts = 3
	c.RetryBaseDelay = 500 * time.Millisecond
	c.UploadConcurrency = 4
	c.RestorePollInterval = time.Minute
	c.RestoreTier = "Standard"
	c.PresignTTL = 15 * time.Minute
	c.LargeDownloadThreshold = 50 * common.MiB
}

// LoadConfig builds a Config from os.Args and the process environment.
func LoadConfig() *Config {
	return Load(os.Args[1:], EnvLookup(".env"))
}

// Load applies defaults, then the JSON file named in args, then env, then
// the flags in args. Later sources take precedence over earlier ones.
func Load(args []string, env Lookup) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, args)
	parseEnv(cfg, env)
	parseFlags(cfg, args)
	return cfg
}
