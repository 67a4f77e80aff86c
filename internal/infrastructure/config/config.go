// Package config loads the hsi client configuration from defaults, a
// YAML or JSON-with-comments file, HSI_* environment variables and CLI
// flags, in that order of precedence.
package config

import (
	"time"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/connection"
)

// Transport names accepted by Stream.Transport
const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// Config is the complete client configuration
type Config struct {
	API       APIConfig              `yaml:"api" json:"api"`
	Stream    StreamConfig           `yaml:"stream" json:"stream"`
	Retry     connection.RetryPolicy `yaml:"retry" json:"retry"`
	Heartbeat HeartbeatConfig        `yaml:"heartbeat" json:"heartbeat"`
	History   HistoryConfig          `yaml:"history" json:"history"`
	Offline   OfflineConfig          `yaml:"offline" json:"offline"`
	Log       LogConfig              `yaml:"log" json:"log"`
}

// APIConfig addresses the REST backend
type APIConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// StreamConfig selects and addresses the push channels
type StreamConfig struct {
	Transport    string   `yaml:"transport" json:"transport"`
	WebSocketURL string   `yaml:"websocket_url" json:"websocket_url"`
	Topics       []string `yaml:"topics" json:"topics"`
	MQTTBroker   string   `yaml:"mqtt_broker" json:"mqtt_broker"`
	MQTTTopic    string   `yaml:"mqtt_topic" json:"mqtt_topic"`
	MQTTClientID string   `yaml:"mqtt_client_id" json:"mqtt_client_id,omitempty"`
}

// HeartbeatConfig controls connection freshness
type HeartbeatConfig struct {
	StaleAfter time.Duration `yaml:"stale_after" json:"stale_after"`
}

// HistoryConfig bounds the in-memory feeds
type HistoryConfig struct {
	Detections    int `yaml:"detections" json:"detections"`
	Batches       int `yaml:"batches" json:"batches"`
	ZoneCrossings int `yaml:"zone_crossings" json:"zone_crossings"`
	Events        int `yaml:"events" json:"events"`
	Notifications int `yaml:"notifications" json:"notifications"`
}

// OfflineConfig controls the SQLite offline event cache
type OfflineConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LogConfig controls the root logger
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// DefaultConfig returns a configuration that talks to a backend on
// localhost.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			Transport:    TransportWebSocket,
			WebSocketURL: "ws://localhost:8000/ws/events",
			Topics:       []string{"detections", "batches", "zones", "events", "notifications"},
			MQTTBroker:   "tcp://localhost:1883",
			MQTTTopic:    "frigate/events",
		},
		Retry: connection.DefaultRetryPolicy(),
		Heartbeat: HeartbeatConfig{
			StaleAfter: 45 * time.Second,
		},
		History: HistoryConfig{
			Detections:    100,
			Batches:       50,
			ZoneCrossings: 100,
			Events:        200,
			Notifications: 50,
		},
		Offline: OfflineConfig{
			Enabled: true,
			Path:    defaultOfflinePath(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
