// Package config loads the orchestration kernel's environment-variable
// driven configuration and sets up its dual-sink logger.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// QueueNames holds the per-stage queue name overrides.
type QueueNames struct {
	RFPAnalyze     string
	PlanIntake     string
	IntakeResume   string
	Plan           string
	Write          string
	Review         string
	ReviewStyle    string
	ReviewCohesion string
	ReviewSummary  string
	Verify         string
	Rewrite        string
	DiagramPrep    string
	DiagramRender  string
	Finalize       string
}

// ReviewFlags gates the optional reviewer flavors; general is always on.
type ReviewFlags struct {
	Style    bool
	Cohesion bool
	Summary  bool
}

// AgentModels names the model used for each per-agent role.
type AgentModels struct {
	Planner  string
	Writer   string
	Reviewer string
	RFP      string
}

// Config holds every environment knob the kernel recognizes.
type Config struct {
	// Queue Broker
	BrokerURL string
	Queues    QueueNames

	// Status Topic
	StatusTopic        string
	StatusRecorderSub  string

	// Object Store
	ObjectStoreBackend string // "fs" or "minio"
	ObjectStoreRoot    string // fs backend root dir
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioBucket        string
	MinioUseSSL        bool
	MinioConfigFile    string // optional YAML file overriding the Minio* fields above

	// Status Store (SurrealDB)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// LLM Gateway
	LLMProvider     string // "anthropic", "openai", "ollama"
	LLMEndpoint     string
	LLMAPIVersion   string
	LLMAPIKey       string
	Models          AgentModels
	EmbeddingModel  string
	OllamaHost      string

	// Diagram renderer (external PlantUML-compatible HTTP service)
	DiagramRendererURL string

	// Document converter (external markdown -> pdf/docx HTTP service)
	ConverterURL string

	// Feature flags
	Reviews ReviewFlags

	// Pipeline tuning
	WriteBatchSize        int
	DefaultLengthPages    int
	DependencyRetryDelaySeconds int

	// Telemetry
	TelemetryEndpoint string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		BrokerURL: getEnv("DOCWRITER_BROKER_URL", "memory://"),
		Queues: QueueNames{
			RFPAnalyze:     getEnv("DOCWRITER_QUEUE_RFP_ANALYZE", "docwriter-rfp-analyze"),
			PlanIntake:     getEnv("DOCWRITER_QUEUE_PLAN_INTAKE", "docwriter-plan-intake"),
			IntakeResume:   getEnv("DOCWRITER_QUEUE_INTAKE_RESUME", "docwriter-intake-resume"),
			Plan:           getEnv("DOCWRITER_QUEUE_PLAN", "docwriter-plan"),
			Write:          getEnv("DOCWRITER_QUEUE_WRITE", "docwriter-write"),
			Review:         getEnv("DOCWRITER_QUEUE_REVIEW", "docwriter-review"),
			ReviewStyle:    getEnv("DOCWRITER_QUEUE_REVIEW_STYLE", "docwriter-review-style"),
			ReviewCohesion: getEnv("DOCWRITER_QUEUE_REVIEW_COHESION", "docwriter-review-cohesion"),
			ReviewSummary:  getEnv("DOCWRITER_QUEUE_REVIEW_SUMMARY", "docwriter-review-summary"),
			Verify:         getEnv("DOCWRITER_QUEUE_VERIFY", "docwriter-verify"),
			Rewrite:        getEnv("DOCWRITER_QUEUE_REWRITE", "docwriter-rewrite"),
			DiagramPrep:    getEnv("DOCWRITER_QUEUE_DIAGRAM_PREP", "docwriter-diagram-prep"),
			DiagramRender:  getEnv("DOCWRITER_QUEUE_DIAGRAM_RENDER", "docwriter-diagram-render"),
			Finalize:       getEnv("DOCWRITER_QUEUE_FINALIZE", "docwriter-finalize-ready"),
		},

		StatusTopic:       getEnv("DOCWRITER_STATUS_TOPIC", "docwriter-status"),
		StatusRecorderSub: getEnv("DOCWRITER_STATUS_RECORDER_SUB", "status-writer"),

		ObjectStoreBackend: getEnv("DOCWRITER_OBJECTSTORE_BACKEND", "fs"),
		ObjectStoreRoot:    getEnv("DOCWRITER_OBJECTSTORE_ROOT", "/tmp/docwriter-objects"),
		MinioEndpoint:      getEnv("DOCWRITER_MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:     getEnv("DOCWRITER_MINIO_ACCESS_KEY", ""),
		MinioSecretKey:     getEnv("DOCWRITER_MINIO_SECRET_KEY", ""),
		MinioBucket:        getEnv("DOCWRITER_MINIO_BUCKET", "docwriter"),
		MinioUseSSL:        getEnv("DOCWRITER_MINIO_USE_SSL", "false") == "true",
		MinioConfigFile:    getEnv("DOCWRITER_MINIO_CONFIG_FILE", ""),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "docwriter"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "kernel"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:   getEnv("DOCWRITER_LLM_PROVIDER", "anthropic"),
		LLMEndpoint:   getEnv("DOCWRITER_LLM_ENDPOINT", ""),
		LLMAPIVersion: getEnv("DOCWRITER_LLM_API_VERSION", ""),
		LLMAPIKey:     getEnv("DOCWRITER_LLM_API_KEY", ""),
		Models: AgentModels{
			Planner:  getEnv("DOCWRITER_MODEL_PLANNER", "claude-opus-4-5"),
			Writer:   getEnv("DOCWRITER_MODEL_WRITER", "claude-sonnet-4-5"),
			Reviewer: getEnv("DOCWRITER_MODEL_REVIEWER", "claude-sonnet-4-5"),
			RFP:      getEnv("DOCWRITER_MODEL_RFP", "claude-opus-4-5"),
		},
		EmbeddingModel: getEnv("DOCWRITER_EMBEDDING_MODEL", "all-minilm:l6-v2"),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),

		DiagramRendererURL: getEnv("DOCWRITER_DIAGRAM_RENDERER_URL", "http://localhost:8080/plantuml"),
		ConverterURL:       getEnv("DOCWRITER_CONVERTER_URL", ""),

		Reviews: ReviewFlags{
			Style:    getEnv("DOCWRITER_REVIEW_STYLE_ENABLED", "true") == "true",
			Cohesion: getEnv("DOCWRITER_REVIEW_COHESION_ENABLED", "true") == "true",
			Summary:  getEnv("DOCWRITER_REVIEW_SUMMARY_ENABLED", "false") == "true",
		},

		WriteBatchSize:              getEnvInt("DOCWRITER_WRITE_BATCH_SIZE", 1),
		DefaultLengthPages:          getEnvInt("DOCWRITER_DEFAULT_LENGTH_PAGES", 60),
		DependencyRetryDelaySeconds: getEnvInt("DOCWRITER_DEPENDENCY_RETRY_DELAY_SECONDS", 5),

		TelemetryEndpoint: getEnv("DOCWRITER_TELEMETRY_ENDPOINT", ""),

		LogFile:  getEnv("DOCWRITER_LOG_FILE", "/tmp/docwriter.log"),
		LogLevel: parseLogLevel(getEnv("DOCWRITER_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
