package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// MongoDB Configuration
	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration

	// Job Store Configuration
	JobStore   string
	SQLitePath string

	// HTTP Server Configuration
	HTTPPort         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Pipeline Configuration
	PipelineTimeout       time.Duration
	ReconnectPollInterval time.Duration
	ReconnectMaxPolls     int
	RecentJobWindow       time.Duration
	StaleJobAfter         time.Duration
	MemoryJobRetention    time.Duration
	SnapshotLockTTL       time.Duration

	// Ambient Feed Configuration
	FeedCardDelay time.Duration
	FeedTipDelay  time.Duration
	FeedMaxCards  int
	FeedMaxTips   int

	// Provider Configuration
	ProviderGatewayURL     string
	ProviderGatewayToken   string
	DefaultProviderTimeout time.Duration

	// Auth Configuration
	AuthProxySecret string

	// CORS Configuration
	CORSAllowedOrigins   string
	CORSAllowedMethods   string
	CORSAllowedHeaders   string
	CORSAllowCredentials bool
	CORSMaxAge           int

	// Orchestrator Configuration
	OrchestratorEnabled      bool
	OrchestratorSchedule     string
	OrchestratorTickInterval time.Duration
	OrchestratorStartURL     string
	OrchestratorWorkers      int
	OrchestratorQueueSize    int
	OrchestratorLockTTL      time.Duration
	OrchestratorMembers      []string
	ReplicaID                string

	// Tier definitions file (optional)
	TiersFile string
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// MongoDB
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017/scout?authSource=admin"),
		MongoDatabase: getEnv("MONGO_DATABASE", "scout"),
		MongoTimeout:  getDurationEnv("MONGO_TIMEOUT_SEC", 10) * time.Second,

		// Job store
		JobStore:   strings.ToLower(getEnv("JOB_STORE", "mongo")),
		SQLitePath: getEnv("SQLITE_PATH", "scout-jobs.db"),

		// HTTP Server. Streams stay open for minutes, so no write timeout by default.
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 0) * time.Second,

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Pipelines
		PipelineTimeout:       getDurationEnv("PIPELINE_TIMEOUT_SEC", 300) * time.Second,
		ReconnectPollInterval: getDurationEnv("RECONNECT_POLL_INTERVAL_SEC", 2) * time.Second,
		ReconnectMaxPolls:     getIntEnv("RECONNECT_MAX_POLLS", 300),
		RecentJobWindow:       getDurationEnv("RECENT_JOB_WINDOW_SEC", 120) * time.Second,
		StaleJobAfter:         getDurationEnv("STALE_JOB_AFTER_SEC", 900) * time.Second,
		MemoryJobRetention:    getDurationEnv("MEMORY_JOB_RETENTION_SEC", 3600) * time.Second,
		SnapshotLockTTL:       getDurationEnv("SNAPSHOT_LOCK_TTL_SEC", 30) * time.Second,

		// Ambient feed
		FeedCardDelay: getDurationEnv("FEED_CARD_DELAY_MS", 600) * time.Millisecond,
		FeedTipDelay:  getDurationEnv("FEED_TIP_DELAY_SEC", 4) * time.Second,
		FeedMaxCards:  getIntEnv("FEED_MAX_CARDS", 6),
		FeedMaxTips:   getIntEnv("FEED_MAX_TIPS", 3),

		// Providers
		ProviderGatewayURL:     getEnv("PROVIDER_GATEWAY_URL", "http://localhost:8090"),
		ProviderGatewayToken:   getEnv("PROVIDER_GATEWAY_TOKEN", ""),
		DefaultProviderTimeout: getDurationEnv("DEFAULT_PROVIDER_TIMEOUT_SEC", 20) * time.Second,

		// Auth
		AuthProxySecret: getEnv("AUTH_PROXY_SECRET", ""),

		// CORS
		CORSAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", "*"),
		CORSAllowedMethods:   getEnv("CORS_ALLOWED_METHODS", "GET, POST, OPTIONS"),
		CORSAllowedHeaders:   getEnv("CORS_ALLOWED_HEADERS", "*"),
		CORSAllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAge:           getIntEnv("CORS_MAX_AGE", 3600),

		// Orchestrator
		OrchestratorEnabled:      getBoolEnv("ORCHESTRATOR_ENABLED", false),
		OrchestratorSchedule:     getEnv("ORCHESTRATOR_SCHEDULE", "0 6 * * *"),
		OrchestratorTickInterval: getDurationEnv("ORCHESTRATOR_TICK_INTERVAL_SEC", 60) * time.Second,
		OrchestratorStartURL:     getEnv("ORCHESTRATOR_START_URL", "http://localhost:8080/api/v1/pipelines"),
		OrchestratorWorkers:      getIntEnv("ORCHESTRATOR_WORKERS", 4),
		OrchestratorQueueSize:    getIntEnv("ORCHESTRATOR_QUEUE_SIZE", 1000),
		OrchestratorLockTTL:      getDurationEnv("ORCHESTRATOR_LOCK_TTL_SEC", 72000) * time.Second,
		OrchestratorMembers:      getListEnv("ORCHESTRATOR_MEMBERS"),
		ReplicaID:                getEnv("REPLICA_ID", hostname()),

		TiersFile: getEnv("TIERS_FILE", ""),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}

// getListEnv splits a comma separated value, dropping empty entries
func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "scout"
	}
	return name
}
