package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"freestuffbot/internal/announce"
	"freestuffbot/internal/storage"
	logx "freestuffbot/pkg/logx"
)

const (
	queueRedis  = "redis"
	queueMemory = "memory"
)

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapRedisOptions returns the connection options and the key namespace.
func mapRedisOptions(cfg *Config) (announce.RedisOptions, string, error) {
	if cfg == nil || cfg.Redis == nil {
		return announce.RedisOptions{}, announce.DefaultNamespace, nil
	}
	rc := cfg.Redis
	opts := announce.RedisOptions{
		Addr:       strings.TrimSpace(rc.Addr),
		Password:   rc.Password,
		DB:         rc.DB,
		MaxRetries: rc.MaxRetries,
	}
	var err error
	if opts.DialTimeout, err = parseDurationField("redis.dial_timeout", rc.DialTimeout); err != nil {
		return announce.RedisOptions{}, "", err
	}
	if opts.ReadTimeout, err = parseDurationField("redis.read_timeout", rc.ReadTimeout); err != nil {
		return announce.RedisOptions{}, "", err
	}
	if opts.WriteTimeout, err = parseDurationField("redis.write_timeout", rc.WriteTimeout); err != nil {
		return announce.RedisOptions{}, "", err
	}
	ns := strings.TrimSpace(rc.Namespace)
	if ns == "" {
		ns = announce.DefaultNamespace
	}
	return opts, ns, nil
}

// mapAnnounceConfig returns the service config and the queue backend name.
func mapAnnounceConfig(cfg *Config) (announce.Config, string, error) {
	if cfg == nil || cfg.Announcements == nil {
		return announce.Config{}, queueMemory, nil
	}
	ac := cfg.Announcements
	queue := strings.ToLower(strings.TrimSpace(ac.Queue))
	switch queue {
	case "":
		queue = queueRedis
	case queueRedis, queueMemory:
	default:
		return announce.Config{}, "", fmt.Errorf("unknown announcements.queue: %s", ac.Queue)
	}
	timeout, err := parseDurationField("announcements.deliver_timeout", ac.DeliverTimeout)
	if err != nil {
		return announce.Config{}, "", err
	}
	retries := 0
	if ac.RetryAttempts != nil {
		retries = *ac.RetryAttempts
		if retries == 0 {
			retries = announce.NoRetries
		}
	}
	return announce.Config{
		Enabled:        ac.Enabled,
		Workers:        ac.Workers,
		RatePerSec:     ac.RatePerSec,
		RetryAttempts:  retries,
		DeliverTimeout: timeout,
		CheckSchedule:  strings.TrimSpace(ac.CheckSchedule),
	}, queue, nil
}

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logChatID parses telegram.group_log; 0 means unset.
func logChatID(cfg *Config) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
