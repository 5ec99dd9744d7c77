package config

import (
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		Debug bool `yaml:"debug" env:"APP_DEBUG" env-default:"false"`
	} `yaml:"app"`

	Postgres struct {
		DSN            string `yaml:"dsn" env:"POSTGRES_DSN"`
		MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
	} `yaml:"postgres"`

	Uploads struct {
		Dir string `yaml:"dir" env:"UPLOAD_DIR" env-default:"/data/uploads"`
	} `yaml:"uploads"`

	S3 struct {
		Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
		Region    string `yaml:"region" env:"S3_REGION" env-default:"ap-south-1"`
	} `yaml:"s3"`

	Whisper struct {
		CLIPath        string `yaml:"cli_path" env:"WHISPER_CLI" env-default:"/opt/whisper.cpp/build/bin/whisper-cli"`
		ModelPath      string `yaml:"model_path" env:"WHISPER_MODEL" env-default:"/opt/whisper.cpp/models/ggml-medium.bin"`
		Language       string `yaml:"language" env:"WHISPER_LANG" env-default:"hi"`
		BeamSize       int    `yaml:"beam_size" env:"WHISPER_BEAM_SIZE" env-default:"5"`
		Translate      bool   `yaml:"translate" env:"WHISPER_TRANSLATE" env-default:"true"`
		TimeoutSeconds int    `yaml:"timeout_seconds" env:"WHISPER_TIMEOUT_SECONDS" env-default:"600"`
	} `yaml:"whisper"`

	LLM struct {
		URL               string  `yaml:"url" env:"LLM_API_URL"`
		APIKey            string  `yaml:"api_key" env:"LLM_API_KEY"`
		TargetServer      string  `yaml:"target_server" env:"LLM_TARGET_SERVER" env-default:"BK"`
		MaxTokens         int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1000"`
		Temperature       float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.3"`
		TimeoutSeconds    int     `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"120"`
		RequestsPerMinute int     `yaml:"requests_per_minute" env:"LLM_REQUESTS_PER_MINUTE" env-default:"30"`
	} `yaml:"llm"`

	Worker struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds" env:"POLL_INTERVAL" env-default:"10"`
		TranscriptionBatch  int `yaml:"transcription_batch" env:"TRANSCRIPTION_BATCH" env-default:"2"`
		AnalysisBatch       int `yaml:"analysis_batch" env:"ANALYSIS_BATCH" env-default:"5"`
		ReclaimAfterMinutes int `yaml:"reclaim_after_minutes" env:"RECLAIM_AFTER_MINUTES" env-default:"30"`
		ReclaimSweepMinutes int `yaml:"reclaim_sweep_minutes" env:"RECLAIM_SWEEP_MINUTES" env-default:"5"`
	} `yaml:"worker"`

	Control struct {
		// Mode selects how workers reach the record store: "direct"
		// talks to Postgres, "http" goes through the control API.
		Mode       string `yaml:"mode" env:"CONTROL_MODE" env-default:"direct"`
		BaseURL    string `yaml:"base_url" env:"CONTROL_BASE_URL" env-default:"http://localhost:8081"`
		ListenAddr string `yaml:"listen_addr" env:"CONTROL_LISTEN_ADDR" env-default:":8081"`
	} `yaml:"control"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	} `yaml:"redis"`

	RabbitMQ struct {
		URL string `yaml:"url" env:"RABBITMQ_URL"`
	} `yaml:"rabbitmq"`

	Telegram struct {
		Token     string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
		OpsChatID int64  `yaml:"ops_chat_id" env:"TELEGRAM_OPS_CHAT_ID" env-default:"0"`
	} `yaml:"telegram"`
}

func LoadConfig() (*Config, error) {
	// Load .env file
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadConfig("configs/config.yaml", &cfg); err != nil {
		return nil, err
	}

	if err := cleanenv.UpdateEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
