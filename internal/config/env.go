package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix starts every environment variable the loader reads.
const EnvPrefix = "GOPHSTORE_"

// Lookup resolves one environment variable.
type Lookup func(name string) (string, bool)

// EnvLookup reads the process environment, falling back to values from the
// dotenv file at path. A missing file is not an error; a malformed one
// panics.
func EnvLookup(path string) Lookup {
	file, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			panic(fmt.Errorf("read %s: %w", path, err))
		}
		file = map[string]string{}
	}
	return func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := file[name]
		return v, ok
	}
}

// MapLookup serves variables from m. Tests use it instead of the process
// environment.
func MapLookup(m map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func envString(env Lookup, name string, dst *string) {
	if v, ok := env(EnvPrefix + name); ok && v != "" {
		*dst = v
	}
}

func envParsed[T any](env Lookup, name string, dst *T, parse func(string) (T, error)) {
	v, ok := env(EnvPrefix + name)
	if !ok || v == "" {
		return
	}
	parsed, err := parse(v)
	if err != nil {
		panic(fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
	}
	*dst = parsed
}

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

// parseEnv overlays cfg with GOPHSTORE_* variables. Empty values are
// ignored.
func parseEnv(cfg *Config, env Lookup) {
	if env == nil {
		return
	}
	envString(env, "S3_ENDPOINT", &cfg.S3Endpoint)
	envString(env, "S3_REGION", &cfg.S3Region)
	envString(env, "S3_BUCKET", &cfg.S3Bucket)
	envString(env, "S3_ACCESS_KEY", &cfg.S3AccessKey)
	envString(env, "S3_SECRET_KEY", &cfg.S3SecretKey)
	envParsed(env, "S3_PATH_STYLE", &cfg.S3PathStyle, strconv.ParseBool)
	envString(env, "STATE_DB", &cfg.StateDBPath)
	envString(env, "ACTIVITY_DSN", &cfg.ActivityDSN)
	envString(env, "LOG_LEVEL", &cfg.LogLevel)
	envString(env, "LOG_FORMAT", &cfg.LogFormat)
	envParsed(env, "RETRY_ATTEMPTS", &cfg.RetryAttempts, strconv.Atoi)
	envParsed(env, "RETRY_BASE_DELAY", &cfg.RetryBaseDelay, time.ParseDuration)
	envParsed(env, "UPLOAD_CONCURRENCY", &cfg.UploadConcurrency, strconv.Atoi)
	envParsed(env, "RESTORE_POLL_INTERVAL", &cfg.RestorePollInterval, time.ParseDuration)
	envString(env, "RESTORE_TIER", &cfg.RestoreTier)
	envParsed(env, "PRESIGN_TTL", &cfg.PresignTTL, time.ParseDuration)
	envParsed(env, "LARGE_DOWNLOAD_THRESHOLD", &cfg.LargeDownloadThreshold, parseInt64)
}
