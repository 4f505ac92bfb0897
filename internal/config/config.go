// Package config loads service configuration from the environment, after
// reading an optional .env file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Backend selects how model backends are provided
type Backend string

const (
	// BackendSidecar calls the Python inference sidecar over HTTP
	BackendSidecar Backend = "sidecar"
	// BackendMock uses deterministic in-process backends, no models needed
	BackendMock Backend = "mock"
)

// CaptionProvider selects the caption backend
type CaptionProvider string

const (
	CaptionSidecar CaptionProvider = "sidecar"
	CaptionOpenAI  CaptionProvider = "openai"
)

type AppConfig struct {
	Env       Environment
	LogLevel  string
	LogFormat string
}

type ServerConfig struct {
	Addr               string
	MaxUploadMB        int
	CORSOrigins        []string
	ReadTimeoutSeconds int
	ShutdownSeconds    int
}

type InferenceConfig struct {
	Backend        Backend
	Captioner      CaptionProvider
	URL            string
	ClipURL        string
	BlipURL        string
	SwinURL        string
	StartupSeconds int
	MockDim        int
}

type EngineConfig struct {
	VocabularyPath    string
	PrototypesPath    string
	RequirePrototypes bool
	SerializeBackends bool
	TopK              int
	Workers           int
	QueueSize         int
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type VoyageConfig struct {
	APIKey string
	Model  string
}

type PineconeConfig struct {
	APIKey    string
	Host      string
	Namespace string
}

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Inference InferenceConfig
	Engine    EngineConfig
	OpenAI    OpenAIConfig
	Voyage    VoyageConfig
	Pinecone  PineconeConfig
}

// Load reads .env when present and then the process environment. Variables
// already set in the environment win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := parseEnvironment(getEnv("TAGGER_ENV", "development"))
	inferenceURL := strings.TrimRight(getEnv("TAGGER_INFERENCE_URL", "http://localhost:8081"), "/")

	return &Config{
		App: AppConfig{
			Env:       env,
			LogLevel:  getLogLevel(env),
			LogFormat: getEnv("TAGGER_LOG_FORMAT", defaultLogFormat(env)),
		},
		Server: ServerConfig{
			Addr:               getEnv("TAGGER_ADDR", ":8080"),
			MaxUploadMB:        getEnvInt("TAGGER_MAX_UPLOAD_MB", 10),
			CORSOrigins:        getEnvList("TAGGER_CORS_ORIGINS", []string{"*"}),
			ReadTimeoutSeconds: getEnvInt("TAGGER_READ_TIMEOUT_SECONDS", 30),
			ShutdownSeconds:    getEnvInt("TAGGER_SHUTDOWN_SECONDS", 10),
		},
		Inference: InferenceConfig{
			Backend:        Backend(strings.ToLower(getEnv("TAGGER_BACKEND", string(BackendSidecar)))),
			Captioner:      CaptionProvider(strings.ToLower(getEnv("TAGGER_CAPTIONER", string(CaptionSidecar)))),
			URL:            inferenceURL,
			ClipURL:        getEnv("TAGGER_CLIP_URL", inferenceURL),
			BlipURL:        getEnv("TAGGER_BLIP_URL", inferenceURL),
			SwinURL:        getEnv("TAGGER_SWIN_URL", inferenceURL),
			StartupSeconds: getEnvInt("TAGGER_STARTUP_SECONDS", 120),
			MockDim:        getEnvInt("TAGGER_MOCK_DIM", 64),
		},
		Engine: EngineConfig{
			VocabularyPath:    getEnv("TAGGER_VOCABULARY_PATH", ""),
			PrototypesPath:    getEnv("TAGGER_PROTOTYPES_PATH", "prototypes.msgpack"),
			RequirePrototypes: getEnvBool("TAGGER_REQUIRE_PROTOTYPES", false),
			SerializeBackends: getEnvBool("TAGGER_SERIALIZE_BACKENDS", false),
			TopK:              getEnvInt("TAGGER_TOP_K", 10),
			Workers:           getEnvInt("TAGGER_WORKERS", defaultWorkerCount()),
			QueueSize:         getEnvInt("TAGGER_QUEUE_SIZE", 100),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4.1-mini"),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		Voyage: VoyageConfig{
			APIKey: getEnv("VOYAGEAI_API_KEY", ""),
			Model:  getEnv("VOYAGEAI_MODEL", "voyage-3.5-lite"),
		},
		Pinecone: PineconeConfig{
			APIKey:    getEnv("PINECONE_API_KEY", ""),
			Host:      getEnv("PINECONE_HOST", ""),
			Namespace: getEnv("PINECONE_NAMESPACE", "prototypes"),
		},
	}, nil
}

// Validate checks the values the serve command depends on
func (c *Config) Validate() error {
	switch c.Inference.Backend {
	case BackendSidecar:
		if c.Inference.URL == "" {
			return fmt.Errorf("TAGGER_INFERENCE_URL is required with the sidecar backend")
		}
	case BackendMock:
	default:
		return fmt.Errorf("TAGGER_BACKEND must be %q or %q, got %q", BackendSidecar, BackendMock, c.Inference.Backend)
	}

	switch c.Inference.Captioner {
	case CaptionSidecar:
	case CaptionOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when TAGGER_CAPTIONER=openai")
		}
	default:
		return fmt.Errorf("TAGGER_CAPTIONER must be %q or %q, got %q", CaptionSidecar, CaptionOpenAI, c.Inference.Captioner)
	}

	if c.Engine.Workers < 1 {
		return fmt.Errorf("TAGGER_WORKERS must be at least 1")
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("TAGGER_MAX_UPLOAD_MB must be at least 1")
	}
	if _, err := logrus.ParseLevel(c.App.LogLevel); err != nil {
		return fmt.Errorf("TAGGER_LOG_LEVEL: %w", err)
	}
	return nil
}

// MaxUploadBytes is the request body limit for uploads
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// NewLogger builds the process logger from the app settings
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(c.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.App.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func parseEnvironment(envStr string) Environment {
	env := Environment(strings.ToLower(envStr))

	switch env {
	case Development, Production:
		return env
	default:
		return Development
	}
}

// defaultWorkerCount keeps one worker per core, capped because every worker
// can hold a model invocation in flight on the sidecar
func defaultWorkerCount() int {
	return min(max(runtime.NumCPU(), 1), 4)
}

func getLogLevel(env Environment) string {
	if env == Production {
		return getEnv("TAGGER_LOG_LEVEL", "info")
	}

	return getEnv("TAGGER_LOG_LEVEL", "debug")
}

func defaultLogFormat(env Environment) string {
	if env == Production {
		return "json"
	}
	return "text"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
