package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks bounds and duration strings. It does not apply defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout); err != nil {
		return err
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		return errors.New("logging.telegram.rate_per_sec must be >= 0")
	}

	if sc := cfg.Storage; sc != nil {
		switch storageDriver(cfg) {
		case "":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(sc.Path) == "" {
				return errors.New("storage.path is required when storage.driver=sqlite")
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", sc.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout); err != nil {
			return err
		}
	}

	if rc := cfg.Redis; rc != nil {
		if rc.DB < 0 {
			return errors.New("redis.db must be >= 0")
		}
		if rc.MaxRetries < 0 {
			return errors.New("redis.max_retries must be >= 0")
		}
		for path, raw := range map[string]string{
			"redis.dial_timeout":  rc.DialTimeout,
			"redis.read_timeout":  rc.ReadTimeout,
			"redis.write_timeout": rc.WriteTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}

	if ac := cfg.Announcements; ac != nil {
		switch strings.ToLower(strings.TrimSpace(ac.Queue)) {
		case "", "redis":
			if ac.Enabled && (cfg.Redis == nil || strings.TrimSpace(cfg.Redis.Addr) == "") {
				return errors.New("redis.addr is required when announcements.queue=redis")
			}
		case "memory":
		default:
			return fmt.Errorf("unknown announcements.queue: %s", ac.Queue)
		}
		if ac.Workers < 0 {
			return errors.New("announcements.workers must be >= 0")
		}
		if ac.RatePerSec < 0 {
			return errors.New("announcements.rate_per_sec must be >= 0")
		}
		if ac.RetryAttempts != nil && *ac.RetryAttempts < 0 {
			return errors.New("announcements.retry_attempts must be >= 0")
		}
		if _, err := ParseDurationField("announcements.deliver_timeout", ac.DeliverTimeout); err != nil {
			return err
		}
		if ac.Enabled && storageDriver(cfg) == "" {
			return errors.New("storage.driver is required when announcements.enabled=true")
		}
	}
	return nil
}

// storageDriver returns the normalized storage driver, "" when storage is off.
func storageDriver(cfg *Config) string {
	if cfg.Storage == nil {
		return ""
	}
	d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if d == "none" {
		return ""
	}
	return d
}
