package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Pipeline names accepted by EDIT_PIPELINE.
const (
	PipelineGemini           = "gemini"
	PipelineOpenAI           = "openai"
	PipelineDescribeGenerate = "describe-generate"
)

type Config struct {
	Port        int
	DatabaseURL string
	JWTSecret   string
	LogLevel    string
	CORSOrigins string

	Provider ProviderConfig
	Storage  StorageConfig
	Edit     EditConfig
	Client   ClientConfig
}

type ProviderConfig struct {
	Pipeline          string
	DescribeProvider  string
	GeminiAPIKey      string
	OpenAIAPIKey      string
	GeminiEditModel   string
	GeminiVisionModel string
	OpenAIVisionModel string
	OpenAIImageModel  string
	OpenAIBaseURL     string
}

type StorageConfig struct {
	ProjectID  string
	BucketName string
	UploadPath string
}

type EditConfig struct {
	ImagePrepare      string
	ImageMaxDimension int
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	Timeout           time.Duration
	SourceCacheTTL    time.Duration
}

type ClientConfig struct {
	APIURL            string
	APIToken          string
	SessionMaxRetries int
}

func defaults() Config {
	return Config{
		Port:        3000,
		LogLevel:    "info",
		CORSOrigins: "*",
		Provider: ProviderConfig{
			Pipeline:          PipelineGemini,
			DescribeProvider:  "gemini",
			GeminiEditModel:   "gemini-2.5-flash-image-preview",
			GeminiVisionModel: "gemini-2.5-flash",
			OpenAIVisionModel: "gpt-4o",
			OpenAIImageModel:  "dall-e-2",
			OpenAIBaseURL:     "https://api.openai.com/v1",
		},
		Storage: StorageConfig{
			UploadPath: "edits/",
		},
		Edit: EditConfig{
			ImagePrepare:      "rgba",
			ImageMaxDimension: 4000,
			RetryMaxAttempts:  3,
			RetryInitialDelay: time.Second,
			Timeout:           2 * time.Minute,
		},
		Client: ClientConfig{
			APIURL:            "http://localhost:3000",
			SessionMaxRetries: 3,
		},
	}
}

// Load reads the optional .env file and then the process environment.
// Unset variables keep their defaults; malformed numbers and durations are errors.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := defaults()
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(name string, dst *int) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", name, v))
			return
		}
		*dst = n
	}
	duration := func(name string, dst *time.Duration) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, v))
			return
		}
		*dst = d
	}

	integer("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("CORS_ALLOW_ORIGINS", &cfg.CORSOrigins)

	str("EDIT_PIPELINE", &cfg.Provider.Pipeline)
	str("DESCRIBE_PROVIDER", &cfg.Provider.DescribeProvider)
	str("GEMINI_API_KEY", &cfg.Provider.GeminiAPIKey)
	str("OPENAI_API_KEY", &cfg.Provider.OpenAIAPIKey)
	str("GEMINI_EDIT_MODEL", &cfg.Provider.GeminiEditModel)
	str("GEMINI_VISION_MODEL", &cfg.Provider.GeminiVisionModel)
	str("OPENAI_VISION_MODEL", &cfg.Provider.OpenAIVisionModel)
	str("OPENAI_IMAGE_MODEL", &cfg.Provider.OpenAIImageModel)
	str("OPENAI_BASE_URL", &cfg.Provider.OpenAIBaseURL)

	str("GCS_PROJECT_ID", &cfg.Storage.ProjectID)
	str("GCS_BUCKET_NAME", &cfg.Storage.BucketName)
	str("GCS_UPLOAD_PATH", &cfg.Storage.UploadPath)

	str("IMAGE_PREPARE", &cfg.Edit.ImagePrepare)
	integer("IMAGE_MAX_DIMENSION", &cfg.Edit.ImageMaxDimension)
	integer("RETRY_MAX_ATTEMPTS", &cfg.Edit.RetryMaxAttempts)
	duration("RETRY_INITIAL_DELAY", &cfg.Edit.RetryInitialDelay)
	duration("EDIT_TIMEOUT", &cfg.Edit.Timeout)
	duration("SOURCE_CACHE_TTL", &cfg.Edit.SourceCacheTTL)

	str("API_URL", &cfg.Client.APIURL)
	str("API_TOKEN", &cfg.Client.APIToken)
	integer("SESSION_MAX_RETRIES", &cfg.Client.SessionMaxRetries)

	switch cfg.Provider.Pipeline {
	case PipelineGemini, PipelineOpenAI, PipelineDescribeGenerate:
	default:
		errs = append(errs, fmt.Errorf("EDIT_PIPELINE: unknown pipeline %q", cfg.Provider.Pipeline))
	}
	switch cfg.Provider.DescribeProvider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("DESCRIBE_PROVIDER: unknown provider %q", cfg.Provider.DescribeProvider))
	}
	if cfg.Edit.RetryMaxAttempts == 0 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &cfg, nil
}
