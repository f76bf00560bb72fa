package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 10s
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./data/freestuff.db
redis:
  addr: localhost:6379
announcements:
  enabled: true
  workers: 5
  rate_per_sec: 20
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("Token = %q, want %q", cfg.Telegram.Token, "123:abc")
	}
	if cfg.Announcements == nil || cfg.Announcements.Workers != 5 {
		t.Fatalf("Announcements = %+v, want workers=5", cfg.Announcements)
	}
	if cfg.Redis == nil || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("Redis = %+v", cfg.Redis)
	}
}

func TestYAMLMergeKeys(t *testing.T) {
	t.Parallel()
	src := `
base: &base
  workers: 2
  rate_per_sec: 5
extra: &extra
  workers: 9
  enabled: true
announcements:
  <<: [*base, *extra]
  rate_per_sec: 30
`
	jb, err := yamlAsJSON([]byte(src))
	if err != nil {
		t.Fatalf("yamlAsJSON: %v", err)
	}
	var got struct {
		Announcements map[string]any `json:"announcements"`
	}
	if err := json.Unmarshal(jb, &got); err != nil {
		t.Fatal(err)
	}
	a := got.Announcements
	if a["workers"] != float64(2) || a["rate_per_sec"] != float64(30) || a["enabled"] != true {
		t.Fatalf("announcements = %v, want workers=2 rate_per_sec=30 enabled=true", a)
	}
}

func TestYAMLRejectsComplexKeys(t *testing.T) {
	t.Parallel()
	if _, err := yamlAsJSON([]byte("? [a, b]\n: 1\n")); err == nil {
		t.Fatal("expected error for a sequence key")
	}
}

func TestParseEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := decode("config.yml", nil)
	if err != nil || cfg == nil {
		t.Fatalf("decode(empty) = %v, %v", cfg, err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"x"},"bogus":1}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := decode("config.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	storage := &StorageConfig{Driver: "sqlite", Path: "db"}
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty", cfg: Config{}},
		{name: "bad poll timeout", cfg: Config{Telegram: TelegramConfig{PollTimeout: "soon"}}, wantErr: true},
		{name: "sqlite without path", cfg: Config{Storage: &StorageConfig{Driver: "sqlite"}}, wantErr: true},
		{name: "unknown driver", cfg: Config{Storage: &StorageConfig{Driver: "mongo", Path: "x"}}, wantErr: true},
		{name: "redis queue without addr", cfg: Config{Storage: storage, Announcements: &AnnouncementConfig{Enabled: true}}, wantErr: true},
		{name: "memory queue", cfg: Config{Storage: storage, Announcements: &AnnouncementConfig{Enabled: true, Queue: "memory"}}},
		{name: "negative workers", cfg: Config{Announcements: &AnnouncementConfig{Queue: "memory", Workers: -1}}, wantErr: true},
		{name: "announcements without storage", cfg: Config{Announcements: &AnnouncementConfig{Enabled: true, Queue: "memory"}}, wantErr: true},
		{name: "announcements with storage off", cfg: Config{Storage: &StorageConfig{Driver: "none", Path: "db"}, Announcements: &AnnouncementConfig{Enabled: true, Queue: "memory"}}, wantErr: true},
		{name: "negative retry attempts", cfg: Config{Announcements: &AnnouncementConfig{Queue: "memory", RetryAttempts: ptr(-1)}}, wantErr: true},
		{name: "no retries", cfg: Config{Announcements: &AnnouncementConfig{Queue: "memory", RetryAttempts: ptr(0)}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("ParseDurationOrDefault = %v, %v; want 3s", d, err)
	}
	_, err = ParseDurationField("storage.busy_timeout", "-1s")
	var de *DurationError
	if !errors.As(err, &de) || de.Field != "storage.busy_timeout" || !errors.Is(err, errNegativeDuration) {
		t.Fatalf("negative duration error = %v", err)
	}
	if d, err := ParseDurationOrDefault("x", "2s", time.Minute); err != nil || d != 2*time.Second {
		t.Fatalf("ParseDurationOrDefault(2s) = %v, %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Redis: &RedisConfig{Addr: "a:1"}}
	newCfg := &Config{Redis: &RedisConfig{Addr: "b:1", Password: "secret"}, Announcements: &AnnouncementConfig{Workers: 3}}
	sections, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) != 2 || sections[0] != "redis" || sections[1] != "announcements" {
		t.Fatalf("sections = %v, want [redis announcements]", sections)
	}
	if !RestartRequired(sections) {
		t.Fatal("redis change should require restart")
	}
}

func ptr[T any](v T) *T { return &v }
