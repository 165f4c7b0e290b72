package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every policy knob of the pipeline. Pacing interval, window
// bounds, and the 60s window floor are hand-tuned constants exposed here
// rather than hard-coded.
type Config struct {
	// HTTP
	HTTPAddr string

	// ClickHouse
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// MQTT bridge; empty broker disables it
	MQTTBroker       string
	MQTTClientID     string
	MQTTUsername     string
	MQTTPassword     string
	MQTTReadingTopic string
	MQTTStreamTopic  string

	// Redis recent cache; empty addr disables it
	RedisAddr string
	RecentCap int
	RecentTTL time.Duration

	// Ingestion pacing
	PaceInterval time.Duration

	// Streaming gateway
	Heartbeat time.Duration

	// Range cache
	RangeTTL     time.Duration
	PointBudget  int
	LivePointCap int

	// Classification
	MinWindows       int
	MaxWindows       int
	MinWindow        time.Duration
	MinWindowSamples int
}

// Load reads configuration from the environment, with an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "mycelium"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		MQTTBroker:       getEnv("MQTT_BROKER", ""),
		MQTTClientID:     getEnv("MQTT_CLIENT_ID", "mycelium-backend"),
		MQTTUsername:     getEnv("MQTT_USERNAME", ""),
		MQTTPassword:     getEnv("MQTT_PASSWORD", ""),
		MQTTReadingTopic: getEnv("MQTT_TOPIC_READING", "signal/+/reading"),
		MQTTStreamTopic:  getEnv("MQTT_TOPIC_STREAM", "signal/{entity_id}/stream"),

		RedisAddr: getEnv("REDIS_ADDR", ""),
		RecentCap: getEnvInt("RECENT_CAP", 300),
		RecentTTL: time.Duration(getEnvInt("RECENT_TTL_SECONDS", 3600)) * time.Second,

		PaceInterval: time.Duration(getEnvInt("PACE_INTERVAL_MS", 1000)) * time.Millisecond,

		Heartbeat: time.Duration(getEnvInt("HEARTBEAT_SECONDS", 15)) * time.Second,

		RangeTTL:     time.Duration(getEnvInt("RANGE_TTL_SECONDS", 60)) * time.Second,
		PointBudget:  getEnvInt("POINT_BUDGET", 2000),
		LivePointCap: getEnvInt("LIVE_POINT_CAP", 600),

		MinWindows:       getEnvInt("CLASSIFY_MIN_WINDOWS", 3),
		MaxWindows:       getEnvInt("CLASSIFY_MAX_WINDOWS", 16),
		MinWindow:        time.Duration(getEnvInt("CLASSIFY_MIN_WINDOW_SECONDS", 60)) * time.Second,
		MinWindowSamples: getEnvInt("CLASSIFY_MIN_WINDOW_SAMPLES", 3),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}
