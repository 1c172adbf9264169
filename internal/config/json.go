package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophstore/internal/flagx"
	"github.com/dmitrijs2005/gophstore/internal/timex"
)

// JsonConfig is the on-disk shape of Config. Absent or zero fields leave
// the current value untouched; S3PathStyle is a pointer so false can be set.
type JsonConfig struct {
	S3Endpoint  string `json:"s3_endpoint"`
	S3Region    string `json:"s3_region"`
	S3Bucket    string `json:"s3_bucket"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`
	S3PathStyle *bool  `json:"s3_path_style"`

	StateDBPath string `json:"state_db"`
	ActivityDSN string `json:"activity_dsn"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	RetryAttempts          int            `json:"retry_attempts"`
	RetryBaseDelay         timex.Duration `json:"retry_base_delay"`
	UploadConcurrency      int            `json:"upload_concurrency"`
	RestorePollInterval    timex.Duration `json:"restore_poll_interval"`
	RestoreTier            string         `json:"restore_tier"`
	PresignTTL             timex.Duration `json:"presign_ttl"`
	LargeDownloadThreshold int64          `json:"large_download_threshold"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays cfg with the file selected by -c/-config in args.
// It does nothing when no file is selected and panics on read or decode
// errors.
func parseJson(cfg *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	if jc.S3PathStyle != nil {
		cfg.S3PathStyle = *jc.S3PathStyle
	}
	setString(&cfg.StateDBPath, jc.StateDBPath)
	setString(&cfg.ActivityDSN, jc.ActivityDSN)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	if jc.RetryAttempts > 0 {
		cfg.RetryAttempts = jc.RetryAttempts
	}
	if jc.RetryBaseDelay.Duration > 0 {
		cfg.RetryBaseDelay = jc.RetryBaseDelay.Duration
	}
	if jc.UploadConcurrency > 0 {
		cfg.UploadConcurrency = jc.UploadConcurrency
	}
	if jc.RestorePollInterval.Duration > 0 {
		cfg.RestorePollInterval = jc.RestorePollInterval.Duration
	}
	setString(&cfg.RestoreTier, jc.RestoreTier)
	if jc.PresignTTL.Duration > 0 {
		cfg.PresignTTL = jc.PresignTTL.Duration
	}
	if jc.LargeDownloadThreshold > 0 {
		cfg.LargeDownloadThreshold = jc.LargeDownloadThreshold
	}
}
