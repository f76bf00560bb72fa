package config

import (
	"reflect"
	"strings"

	logx "freestuffbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (bot token, redis password) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	oRedis, nRedis := derefRedis(oldCfg.Redis), derefRedis(newCfg.Redis)
	if (oldCfg.Redis == nil) != (newCfg.Redis == nil) || oRedis != nRedis {
		changed = append(changed, "redis")
		attrs = append(attrs,
			logx.String("redis.addr", nRedis.Addr),
			logx.Bool("redis.password_set", nRedis.Password != ""),
		)
	}

	oAnn, nAnn := derefAnnouncements(oldCfg.Announcements), derefAnnouncements(newCfg.Announcements)
	if !reflect.DeepEqual(oAnn, nAnn) {
		changed = append(changed, "announcements")
		attrs = append(attrs,
			logx.Bool("announcements.enabled", nAnn.Enabled),
			logx.Int("announcements.workers", nAnn.Workers),
			logx.Int("announcements.rate_per_sec", nAnn.RatePerSec),
			logx.Any("announcements.retry_attempts", nAnn.RetryAttempts),
		)
	}

	return changed, attrs
}

// RestartRequired reports whether any changed section cannot be applied live.
func RestartRequired(sections []string) bool {
	for _, s := range sections {
		switch s {
		case "storage", "redis":
			return true
		}
	}
	return false
}

func derefRedis(c *RedisConfig) RedisConfig {
	if c == nil {
		return RedisConfig{}
	}
	return *c
}

func derefAnnouncements(c *AnnouncementConfig) AnnouncementConfig {
	if c == nil {
		return AnnouncementConfig{}
	}
	return *c
}
