package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config - общая конфигурация сервера и клиента.
// Длительности в yaml задаются строками ("2m", "8s") и парсятся при загрузке.
type Config struct {
	ServerAddr string `yaml:"server_addr"`
	HistoryDir string `yaml:"history_dir"`
	BuddyDir   string `yaml:"buddy_dir"`

	StaleThreshold    time.Duration `yaml:"-"` // после этого порога online-запись считается протухшей
	PresenceTick      time.Duration `yaml:"-"` // период пересчета effective-online
	TransientDuration time.Duration `yaml:"-"` // сколько держится метка "только что вошел/вышел"
	KeepalivePeriod   time.Duration `yaml:"-"` // период обновления lastSeen текущего пользователя
	BackfillBuffer    time.Duration `yaml:"-"` // запас назад при фильтрации сообщений окна чата

	Sound SoundConfig `yaml:"sound"`
}

type SoundConfig struct {
	Dir    string  `yaml:"dir"`
	Volume float64 `yaml:"volume"` // 0..1
	Muted  bool    `yaml:"muted"`
}

type rawConfig struct {
	ServerAddr        string         `yaml:"server_addr"`
	HistoryDir        string         `yaml:"history_dir"`
	BuddyDir          string         `yaml:"buddy_dir"`
	StaleThreshold    string         `yaml:"stale_threshold"`
	PresenceTick      string         `yaml:"presence_tick"`
	TransientDuration string         `yaml:"transient_duration"`
	KeepalivePeriod   string         `yaml:"keepalive_period"`
	BackfillBuffer    string         `yaml:"backfill_buffer"`
	Sound             rawSoundConfig `yaml:"sound"`
}

// rawSoundConfig различает "поле не задано" и нулевое значение:
// пропущенная громкость остается 1.0, а не превращается в тишину.
type rawSoundConfig struct {
	Dir    string   `yaml:"dir"`
	Volume *float64 `yaml:"volume"`
	Muted  *bool    `yaml:"muted"`
}

// Значения по умолчанию соответствуют поведению оригинального клиента.
const (
	DefaultStaleThreshold    = 2 * time.Minute
	DefaultPresenceTick      = 60 * time.Second
	DefaultTransientDuration = 8 * time.Second
	DefaultKeepalivePeriod   = 30 * time.Second
	DefaultBackfillBuffer    = 10 * time.Second
)

// Default возвращает конфигурацию со значениями по умолчанию, без чтения файла.
func Default() Config {
	return Config{
		ServerAddr:        "localhost:8088",
		HistoryDir:        "./chat_history",
		BuddyDir:          "./buddy_lists",
		StaleThreshold:    DefaultStaleThreshold,
		PresenceTick:      DefaultPresenceTick,
		TransientDuration: DefaultTransientDuration,
		KeepalivePeriod:   DefaultKeepalivePeriod,
		BackfillBuffer:    DefaultBackfillBuffer,
		Sound:             SoundConfig{Volume: 1.0},
	}
}

// Load читает yaml-файл конфигурации. Отсутствующий файл - не ошибка,
// возвращаются значения по умолчанию.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, err
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, err
	}

	if raw.ServerAddr != "" {
		cfg.ServerAddr = raw.ServerAddr
	}
	if raw.HistoryDir != "" {
		cfg.HistoryDir = raw.HistoryDir
	}
	if raw.BuddyDir != "" {
		cfg.BuddyDir = raw.BuddyDir
	}
	if raw.Sound.Dir != "" {
		cfg.Sound.Dir = raw.Sound.Dir
	}
	if raw.Sound.Volume != nil {
		cfg.Sound.Volume = *raw.Sound.Volume
	}
	if raw.Sound.Muted != nil {
		cfg.Sound.Muted = *raw.Sound.Muted
	}

	if cfg.StaleThreshold, err = parseDuration(raw.StaleThreshold, DefaultStaleThreshold); err != nil {
		return Config{}, fmt.Errorf("invalid stale_threshold: %w", err)
	}
	if cfg.PresenceTick, err = parseDuration(raw.PresenceTick, DefaultPresenceTick); err != nil {
		return Config{}, fmt.Errorf("invalid presence_tick: %w", err)
	}
	if cfg.TransientDuration, err = parseDuration(raw.TransientDuration, DefaultTransientDuration); err != nil {
		return Config{}, fmt.Errorf("invalid transient_duration: %w", err)
	}
	if cfg.KeepalivePeriod, err = parseDuration(raw.KeepalivePeriod, DefaultKeepalivePeriod); err != nil {
		return Config{}, fmt.Errorf("invalid keepalive_period: %w", err)
	}
	if cfg.BackfillBuffer, err = parseDuration(raw.BackfillBuffer, DefaultBackfillBuffer); err != nil {
		return Config{}, fmt.Errorf("invalid backfill_buffer: %w", err)
	}

	return cfg, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
