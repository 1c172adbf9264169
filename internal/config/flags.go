package config

import (
	"flag"

	"github.com/dmitrijs2005/gophstore/internal/flagx"
)

var ownFlags = flagx.Spec{
	"-e":               true,
	"-r":               true,
	"-b":               true,
	"-u":               true,
	"-p":               true,
	"-path-style":      false,
	"-s":               true,
	"-d":               true,
	"-l":               true,
	"-log-format":      true,
	"-retries":         true,
	"-retry-delay":     true,
	"-concurrency":     true,
	"-poll":            true,
	"-tier":            true,
	"-presign-ttl":     true,
	"-large-threshold": true,
}

// Flags lists every flag parseFlags understands, plus the config file
// selectors, so the CLI can tell flags from positional arguments.
var Flags = flagx.Merge(flagx.ConfigSpec, ownFlags)

// parseFlags overlays cfg with the flags found in args.
//
//	-e string          S3 endpoint URL (empty for AWS)
//	-r string          S3 region
//	-b string          bucket
//	-u string          access key id
//	-p string          secret access key
//	-path-style        use path-style bucket addressing
//	-s string          resumable state database path
//	-d string          activity log Postgres DSN
//	-l string          log level
//	-log-format string text or json
//	-retries int       attempts per part or range
//	-retry-delay dur   delay before the first retry
//	-concurrency int   managed upload part concurrency
//	-poll dur          restore poll interval
//	-tier string       default restore tier
//	-presign-ttl dur   signed URL lifetime
//	-large-threshold n bytes above which downloads are ranged
//
// Malformed values panic.
func parseFlags(cfg *Config, args []string) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.S3Endpoint, "e", cfg.S3Endpoint, "S3 endpoint URL")
	fs.StringVar(&cfg.S3Region, "r", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "bucket name")
	fs.StringVar(&cfg.S3AccessKey, "u", cfg.S3AccessKey, "access key id")
	fs.StringVar(&cfg.S3SecretKey, "p", cfg.S3SecretKey, "secret access key")
	fs.BoolVar(&cfg.S3PathStyle, "path-style", cfg.S3PathStyle, "use path-style addressing")
	fs.StringVar(&cfg.StateDBPath, "s", cfg.StateDBPath, "resumable state database path")
	fs.StringVar(&cfg.ActivityDSN, "d", cfg.ActivityDSN, "activity log DSN")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text or json)")
	fs.IntVar(&cfg.RetryAttempts, "retries", cfg.RetryAttempts, "attempts per part or range")
	fs.DurationVar(&cfg.RetryBaseDelay, "retry-delay", cfg.RetryBaseDelay, "delay before the first retry")
	fs.IntVar(&cfg.UploadConcurrency, "concurrency", cfg.UploadConcurrency, "managed upload concurrency")
	fs.DurationVar(&cfg.RestorePollInterval, "poll", cfg.RestorePollInterval, "restore poll interval")
	fs.StringVar(&cfg.RestoreTier, "tier", cfg.RestoreTier, "default restore tier")
	fs.DurationVar(&cfg.PresignTTL, "presign-ttl", cfg.PresignTTL, "signed URL lifetime")
	fs.Int64Var(&cfg.LargeDownloadThreshold, "large-threshold", cfg.LargeDownloadThreshold, "ranged download threshold in bytes")

	if err := fs.Parse(flagx.FilterArgs(args, ownFlags)); err != nil {
		panic(err)
	}
}
