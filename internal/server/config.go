// config.go - Process configuration, loaded from IMAGEHUB_* env vars.
package server

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig is the full backend configuration. Required fields abort
// startup when missing; everything else has a development-friendly default.
type AppConfig struct {
	Addr    string `envconfig:"ADDR" default:":8080"`
	Version string `envconfig:"VERSION" default:"dev"`

	// Auth
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"168h"`

	// Object storage (MinIO or any S3-compatible endpoint, e.g. R2)
	S3Endpoint  string `envconfig:"S3_ENDPOINT" required:"true"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" required:"true"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" required:"true"`
	S3Bucket    string `envconfig:"S3_BUCKET" required:"true"`
	// When set, stored objects are addressed as PUBLIC_BASE_URL/<key>;
	// otherwise presigned URLs are issued.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL"`

	// Uploads
	ChunkDir       string `envconfig:"CHUNK_DIR" default:"upload/temp"`
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"52428800"`

	// Fragment sweep background job
	SweepEnabled  bool          `envconfig:"SWEEP_ENABLED" default:"false"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	SweepMaxAge   time.Duration `envconfig:"SWEEP_MAX_AGE" default:"24h"`

	// Outbound email for verification codes
	EmailEnabled bool   `envconfig:"EMAIL_ENABLED" default:"false"`
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     string `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser     string `envconfig:"SMTP_USER"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	FromEmail    string `envconfig:"FROM_EMAIL"`
}

// LoadAppConfig reads configuration from the environment.
func LoadAppConfig() (AppConfig, error) {
	var cfg AppConfig
	err := envconfig.Process("imagehub", &cfg)
	return cfg, err
}
