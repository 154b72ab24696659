// Package config provides configuration loading for the streaming
// service. It handles environment variable parsing and supplies default
// values for every optional setting.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package
// initialization. godotenv.Load() does not override already-set
// environment variables, so OS env always takes precedence over .env.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the streaming service.
type Config struct {
	Env string // Deployment environment (dev, staging, prod)
	Port string // HTTP server port

	// Upstream chat-platform auth
	TGBotToken       string
	ArchiveChannelID int64

	// Metadata store
	DatabaseDSN string

	PublicBaseURL string
	ProxyURL      string
	CookiesBlob   string

	BlobFetchTimeoutSeconds int
	MaxFileSizeMB           int64
	MaxDurationHours        float64

	NATSURL         string
	OTelServiceName string

	CORSAllowedOrigins []string

	SessionFilePath string

	// Optional thumbnail object storage. Thumbnail uploads are disabled
	// when S3Bucket is empty.
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

const (
	defaultPort                    = "7860"
	defaultEnv                     = "dev"
	defaultBlobFetchTimeoutSeconds = 60
	defaultMaxFileSizeMB           = 500
	defaultMaxDurationHours        = 2
	defaultOTelServiceName         = "streamvault"
	defaultSessionFilePath         = "streamvault.session"
)

// Load reads environment variables and produces a Config suitable for
// wiring the service. Returns an error if a required parameter is
// missing.
func Load() (Config, error) {
	cfg := Config{}

	cfg.Env = getEnv("SV_ENV", defaultEnv)
	cfg.Port = getEnv("PORT", defaultPort)

	cfg.TGBotToken = os.Getenv("TG_BOT_TOKEN")

	var missing []string
	if cfg.TGBotToken == "" {
		missing = append(missing, "TG_BOT_TOKEN")
	}

	if channelIDStr, exists := os.LookupEnv("TG_ARCHIVE_CHANNEL_ID"); exists {
		id, err := strconv.ParseInt(channelIDStr, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("TG_ARCHIVE_CHANNEL_ID must be an integer: %w", err)
		}
		cfg.ArchiveChannelID = id
	} else {
		missing = append(missing, "TG_ARCHIVE_CHANNEL_ID")
	}

	cfg.DatabaseDSN = os.Getenv("DATABASE_URL")
	if cfg.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	if cfg.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}

	if len(missing) > 0 {
		return cfg, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	cfg.ProxyURL = os.Getenv("PROXY_URL")
	cfg.CookiesBlob = os.Getenv("TG_COOKIES_BLOB")

	if v, exists := os.LookupEnv("BLOB_FETCH_TIMEOUT_SECONDS"); exists {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BlobFetchTimeoutSeconds = n
		}
	}
	if cfg.BlobFetchTimeoutSeconds == 0 {
		cfg.BlobFetchTimeoutSeconds = defaultBlobFetchTimeoutSeconds
	}

	if v, exists := os.LookupEnv("MAX_FILE_SIZE_MB"); exists {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxFileSizeMB = n
		}
	}
	if cfg.MaxFileSizeMB == 0 {
		cfg.MaxFileSizeMB = defaultMaxFileSizeMB
	}

	if v, exists := os.LookupEnv("MAX_DURATION_HOURS"); exists {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxDurationHours = n
		}
	}
	if cfg.MaxDurationHours == 0 {
		cfg.MaxDurationHours = defaultMaxDurationHours
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.OTelServiceName = getEnv("OTEL_SERVICE_NAME", defaultOTelServiceName)
	cfg.SessionFilePath = getEnv("SESSION_FILE_PATH", defaultSessionFilePath)

	if v, exists := os.LookupEnv("CORS_ALLOWED_ORIGINS"); exists {
		for _, origin := range strings.Split(v, ",") {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, strings.TrimSpace(origin))
		}
	} else {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3Region = getEnv("S3_REGION", "auto")
	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	cfg.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("S3_SECRET_KEY")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}
