package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	Port            string        `mapstructure:"PORT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	AdminKey        string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed     string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	MaxUploadSizeMB int64         `mapstructure:"MAX_UPLOAD_MB"`

	GCSBucket          string `mapstructure:"GCS_BUCKET"`
	GCSCredentialsJSON string `mapstructure:"GCS_CREDENTIALS_JSON"`
	RecordingTTLDays   int    `mapstructure:"RECORDING_TTL_DAYS"`
	SignedURLMinutes   int    `mapstructure:"SIGNED_URL_MINUTES"`

	OpenAIAPIKey          string `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL         string `mapstructure:"OPENAI_BASE_URL"`
	WhisperModel          string `mapstructure:"WHISPER_MODEL"`
	TranscriptionLanguage string `mapstructure:"TRANSCRIPTION_LANGUAGE"`

	LLMAPIKey    string `mapstructure:"LLM_API_KEY"`
	LLMBaseURL   string `mapstructure:"LLM_BASE_URL"`
	LLMModel     string `mapstructure:"LLM_MODEL"`
	LLMMaxTokens int    `mapstructure:"LLM_MAX_TOKENS"`

	HumeAPIKey       string        `mapstructure:"HUME_API_KEY"`
	HumeBaseURL      string        `mapstructure:"HUME_BASE_URL"`
	HumePollInterval time.Duration `mapstructure:"HUME_POLL_INTERVAL"`
	HumeMaxWait      time.Duration `mapstructure:"HUME_MAX_WAIT"`

	BiztelMinInterval     time.Duration `mapstructure:"BIZTEL_MIN_INTERVAL"`
	BiztelTimeout         time.Duration `mapstructure:"BIZTEL_TIMEOUT"`
	BiztelClientCacheSize int           `mapstructure:"BIZTEL_CLIENT_CACHE_SIZE"`
	BiztelClientCacheTTL  time.Duration `mapstructure:"BIZTEL_CLIENT_CACHE_TTL"`

	WorkerConcurrency   int           `mapstructure:"WORKER_CONCURRENCY"`
	QueueSize           int           `mapstructure:"QUEUE_SIZE"`
	PipelineMaxAttempts int           `mapstructure:"PIPELINE_MAX_ATTEMPTS"`
	PipelineRetryDelay  time.Duration `mapstructure:"PIPELINE_RETRY_DELAY"`

	SchedulerEnabled   bool   `mapstructure:"SCHEDULER_ENABLED"`
	SchedulerTimezone  string `mapstructure:"SCHEDULER_TIMEZONE"`
	CronProcessPending string `mapstructure:"CRON_PROCESS_PENDING"`
	CronDailySync      string `mapstructure:"CRON_DAILY_SYNC"`
	CronCleanup        string `mapstructure:"CRON_CLEANUP"`
	RedisURL           string `mapstructure:"REDIS_URL"`

	LenientCSVInts bool `mapstructure:"LENIENT_CSV_INTS"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MAX_UPLOAD_MB", 100)

	v.SetDefault("GCS_BUCKET", "")
	v.SetDefault("GCS_CREDENTIALS_JSON", "")
	v.SetDefault("RECORDING_TTL_DAYS", 7)
	v.SetDefault("SIGNED_URL_MINUTES", 60)

	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("WHISPER_MODEL", "whisper-1")
	v.SetDefault("TRANSCRIPTION_LANGUAGE", "ja")

	v.SetDefault("LLM_API_KEY", "")
	v.SetDefault("LLM_BASE_URL", "")
	v.SetDefault("LLM_MODEL", "gpt-4-turbo-preview")
	v.SetDefault("LLM_MAX_TOKENS", 2000)

	v.SetDefault("HUME_API_KEY", "")
	v.SetDefault("HUME_BASE_URL", "https://api.hume.ai/v0")
	v.SetDefault("HUME_POLL_INTERVAL", "2s")
	v.SetDefault("HUME_MAX_WAIT", "300s")

	v.SetDefault("BIZTEL_MIN_INTERVAL", "100ms")
	v.SetDefault("BIZTEL_TIMEOUT", "30s")
	v.SetDefault("BIZTEL_CLIENT_CACHE_SIZE", 128)
	v.SetDefault("BIZTEL_CLIENT_CACHE_TTL", "1h")

	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("QUEUE_SIZE", 1000)
	v.SetDefault("PIPELINE_MAX_ATTEMPTS", 3)
	v.SetDefault("PIPELINE_RETRY_DELAY", "60s")

	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("SCHEDULER_TIMEZONE", "UTC")
	v.SetDefault("CRON_PROCESS_PENDING", "*/5 * * * *")
	v.SetDefault("CRON_DAILY_SYNC", "0 3 * * *")
	v.SetDefault("CRON_CLEANUP", "0 */6 * * *")
	v.SetDefault("REDIS_URL", "")

	v.SetDefault("LENIENT_CSV_INTS", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
