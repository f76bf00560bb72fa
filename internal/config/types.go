package config

// Config is the on-disk configuration (config.json or config.yaml).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Redis         *RedisConfig        `json:"redis,omitempty"`
	Announcements *AnnouncementConfig `json:"announcements,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	PollTimeout  string  `json:"poll_timeout"`
	SendTimeout  string  `json:"send_timeout,omitempty"` // default "15s"
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the SQLite database holding chat configuration,
// games and broadcast reports.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/freestuff.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RedisConfig points at the Redis instance holding in-flight broadcast queues.
type RedisConfig struct {
	Addr         string `json:"addr"`
	Password     string `json:"password,omitempty"`
	DB           int    `json:"db,omitempty"`
	Namespace    string `json:"namespace,omitempty"` // default: "TheFreeStuffBot"
	DialTimeout  string `json:"dial_timeout,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	MaxRetries   int    `json:"max_retries,omitempty"`
}

// AnnouncementConfig controls the broadcast engine.
//
// Defaults (when fields are omitted/zero):
//   - queue: "redis"
//   - workers: 5
//   - rate_per_sec: 20
//   - retry_attempts: 3 (an explicit 0 disables retry cycles)
//   - check_schedule: "@every 1m"
//   - deliver_timeout: "15s"
type AnnouncementConfig struct {
	Enabled        bool   `json:"enabled"`
	Queue          string `json:"queue,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	RetryAttempts  *int   `json:"retry_attempts,omitempty"`
	CheckSchedule  string `json:"check_schedule,omitempty"`
	DeliverTimeout string `json:"deliver_timeout,omitempty"`
}
