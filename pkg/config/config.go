package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for a GuestLens service.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Kafka     KafkaConfig
	Storage   StorageConfig
	Tracing   TracingConfig
	Metrics   MetricsConfig
	Upload    UploadConfig
	Policy    PolicyConfig
	RateLimit RateLimitConfig
	Quota     QuotaConfig
	Thumbnail ThumbnailConfig
	Recorder  RecorderConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"guestlens-ingestion"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogEncoding string `env:"APP_LOG_ENCODING" envDefault:"json"`
}

type HTTPConfig struct {
	Addr           string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"2m"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic            string        `env:"KAFKA_MEDIA_TOPIC" envDefault:"guestlens.media"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"guestlens-media"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=guestlens"`
}

type MetricsConfig struct {
	Addr      string `env:"METRICS_ADDR" envDefault:":9102"`
	Namespace string `env:"METRICS_NAMESPACE" envDefault:"guestlens"`
}

type UploadConfig struct {
	// MaxSizeBytes caps the whole multipart body, media plus thumbnail.
	MaxSizeBytes      int64 `env:"UPLOAD_MAX_SIZE_BYTES" envDefault:"110100480"`
	MultipartMemBytes int64 `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"33554432"`
}

// PolicyConfig carries the media acceptance bounds.
type PolicyConfig struct {
	MaxPhotoBytes     int64         `env:"POLICY_MAX_PHOTO_BYTES" envDefault:"15728640"`
	MaxVideoBytes     int64         `env:"POLICY_MAX_VIDEO_BYTES" envDefault:"104857600"`
	MaxVideoDuration  time.Duration `env:"POLICY_MAX_VIDEO_DURATION" envDefault:"30s"`
	MinImageDimension int           `env:"POLICY_MIN_IMAGE_DIMENSION" envDefault:"100"`
	MaxImageDimension int           `env:"POLICY_MAX_IMAGE_DIMENSION" envDefault:"12000"`
	MinVideoDimension int           `env:"POLICY_MIN_VIDEO_DIMENSION" envDefault:"240"`
	DecodeTimeout     time.Duration `env:"POLICY_DECODE_TIMEOUT" envDefault:"5s"`
}

type RateLimitConfig struct {
	PhotoPerHour  int           `env:"RATE_LIMIT_PHOTO_PER_HOUR" envDefault:"60"`
	PhotoPerDay   int           `env:"RATE_LIMIT_PHOTO_PER_DAY" envDefault:"300"`
	VideoPerHour  int           `env:"RATE_LIMIT_VIDEO_PER_HOUR" envDefault:"10"`
	VideoPerDay   int           `env:"RATE_LIMIT_VIDEO_PER_DAY" envDefault:"50"`
	FailOpen      bool          `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`
	SweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" envDefault:"5m"`
}

type QuotaConfig struct {
	MaxPerEvent       int  `env:"QUOTA_MAX_PER_EVENT" envDefault:"2000"`
	MaxPerContributor int  `env:"QUOTA_MAX_PER_CONTRIBUTOR" envDefault:"100"`
	FailOpen          bool `env:"QUOTA_FAIL_OPEN" envDefault:"true"`
}

type ThumbnailConfig struct {
	FFmpegPath string        `env:"THUMBNAIL_FFMPEG_PATH" envDefault:"ffmpeg"`
	Width      int           `env:"THUMBNAIL_WIDTH" envDefault:"320"`
	Quality    int           `env:"THUMBNAIL_QUALITY" envDefault:"80"`
	Timeout    time.Duration `env:"THUMBNAIL_TIMEOUT" envDefault:"10s"`
	MaxPixels  int           `env:"THUMBNAIL_MAX_PIXELS" envDefault:"40000000"`
}

type RecorderConfig struct {
	MaxDuration  time.Duration `env:"RECORDER_MAX_DURATION" envDefault:"30s"`
	TickInterval time.Duration `env:"RECORDER_TICK_INTERVAL" envDefault:"250ms"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
