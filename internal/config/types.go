package config

// Config is the whole triptimer configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1h").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Metadata   MetadataConfig   `json:"metadata"`
	Admin      AdminConfig      `json:"admin"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig points at the SQLite database holding both the job table and
// the trip/subscription tables.
//
//	"storage": { "driver": "sqlite", "path": "./triptimer.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls when jobs become due.
//
// Defaults:
//   - lead: "1h"
//   - resync: "" (no periodic re-initialization)
//   - timezone: "Local" (used for resync cron and payload rendering)
type SchedulerConfig struct {
	Lead     string `json:"lead,omitempty"`
	Resync   string `json:"resync,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig sizes the worker pool that executes fired timers.
//
// Defaults: workers 4, queue_size 256, default_timeout "30s", history_size 200.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type DeliveryConfig struct {
	WebPush  WebPushConfig  `json:"webpush"`
	Telegram TelegramConfig `json:"telegram"`
}

// WebPushConfig holds the VAPID identity. Keys may come from the environment
// (TRIPTIMER_VAPID_PUBLIC_KEY / TRIPTIMER_VAPID_PRIVATE_KEY) instead.
type WebPushConfig struct {
	Enabled         bool   `json:"enabled"`
	Subscriber      string `json:"subscriber"`
	VAPIDPublicKey  string `json:"vapid_public_key,omitempty"`
	VAPIDPrivateKey string `json:"vapid_private_key,omitempty"`
	TTL             int    `json:"ttl,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	Icon            string `json:"icon,omitempty"`
	Badge           string `json:"badge,omitempty"`
}

type TelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// MetadataConfig configures the train-type lookup service.
type MetadataConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// AdminConfig controls the operator HTTP surface. Prefer a loopback address.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8089"

	// CORSOrigins allows a browser dashboard on another origin.
	CORSOrigins []string `json:"cors_origins,omitempty"`
}
