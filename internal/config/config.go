package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config структура конфигурации.
type Config struct {
	Logger   LogConf      `toml:"logger" yaml:"logger"`     // Logger - конфигурация регистратора.
	Device   DeviceConf   `toml:"device" yaml:"device"`     // Device - адрес и таймауты устройства.
	Poll     PollConf     `toml:"poll" yaml:"poll"`         // Poll - опрос состояния устройства.
	Coalesce CoalesceConf `toml:"coalesce" yaml:"coalesce"` // Coalesce - объединение записей.
	Console  ConsoleConf  `toml:"console" yaml:"console"`   // Console - буферы DMX.
	MQTT     MQTTConf     `toml:"mqtt" yaml:"mqtt"`         // MQTT - конфигурация MQTT клиента.
	ArtNet   ArtNetConf   `toml:"artnet" yaml:"artnet"`     // ArtNet - зеркало выбранного буфера.
	API      APIConf      `toml:"api" yaml:"api"`           // API - локальный HTTP API состояния.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level  string `toml:"log-level" yaml:"log-level"`   // Level - уровень логирования.
	Format string `toml:"log-format" yaml:"log-format"` // Format - text или json.
}

// DeviceConf описывает HTTP устройство.
type DeviceConf struct {
	BaseURL   string `toml:"base-url" yaml:"base-url"`     // BaseURL - пусто в production, адрес устройства в разработке.
	TimeoutMs int    `toml:"timeout-ms" yaml:"timeout-ms"` // TimeoutMs - таймаут одного запроса.
}

// PollConf структура конфигурации опроса.
type PollConf struct {
	IntervalMs       int `toml:"interval-ms" yaml:"interval-ms"`             // IntervalMs - период опроса.
	ImmediateRetries int `toml:"immediate-retries" yaml:"immediate-retries"` // ImmediateRetries - повторы цепочки overview.
}

// CoalesceConf структура конфигурации записи.
type CoalesceConf struct {
	WindowMs int `toml:"window-ms" yaml:"window-ms"` // WindowMs - окно объединения записей одного ключа.
}

// ConsoleConf структура конфигурации консоли.
type ConsoleConf struct {
	MaxBuffer int `toml:"max-buffer" yaml:"max-buffer"` // MaxBuffer - последний выбираемый буфер.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	ClientID string `toml:"clientID" yaml:"clientID"` // ClientID - имя клиента, по умолчанию генерируется.
	Schema   string `toml:"schema" yaml:"schema"`     // Schema - тип подключения.
	Host     string `toml:"server" yaml:"server"`     // Host - адрес MQTT сервера.
	Port     string `toml:"port" yaml:"port"`         // Port - порт MQTT сервера.
	User     string `toml:"user" yaml:"user"`         // User - логин для подключения к MQTT серверу.
	Password string `toml:"password" yaml:"password"` // Password - пароль для подключения к MQTT серверу.
	Qos      byte   `toml:"qos" yaml:"qos"`           // Qos - качество обслуживания.
	Prefix   string `toml:"prefix" yaml:"prefix"`     // Prefix - корень топиков.
}

// ArtNetConf структура конфигурации Art-Net.
type ArtNetConf struct {
	Enabled      bool   `toml:"enabled" yaml:"enabled"`
	Network      string `toml:"network" yaml:"network"`             // Network - CIDR сети Art-Net.
	UniverseBase uint16 `toml:"universe-base" yaml:"universe-base"` // UniverseBase - universe для буфера 0.
	MaxFPS       int    `toml:"max-fps" yaml:"max-fps"`
}

// APIConf структура конфигурации локального API.
type APIConf struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen"`
}

// Default returns the configuration used for every field the file leaves out.
func Default() Config {
	return Config{
		Logger:   LogConf{Level: "info", Format: "text"},
		Device:   DeviceConf{TimeoutMs: 1500},
		Poll:     PollConf{IntervalMs: 2000, ImmediateRetries: 1},
		Coalesce: CoalesceConf{WindowMs: 100},
		Console:  ConsoleConf{MaxBuffer: 24},
		MQTT: MQTTConf{
			Schema: "tcp",
			Port:   "1883",
			Prefix: "dmxsync",
		},
		ArtNet: ArtNetConf{Network: "192.168.6.0/24", MaxFPS: 10},
		API:    APIConf{Listen: "127.0.0.1:8080"},
	}
}

// NewConfig конструктор. Файлы .yaml/.yml читаются как YAML, остальные как TOML.
func NewConfig(path string) (*Config, error) {
	// default values
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return &cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return &cfg, err
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return &cfg, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

// Validate checks ranges. It does not mutate the configuration.
func (c *Config) Validate() error {
	if c.Device.TimeoutMs <= 0 {
		return fmt.Errorf("device.timeout-ms must be > 0, got %d", c.Device.TimeoutMs)
	}
	if c.Poll.IntervalMs <= 0 {
		return fmt.Errorf("poll.interval-ms must be > 0, got %d", c.Poll.IntervalMs)
	}
	if c.Poll.ImmediateRetries < 0 {
		return fmt.Errorf("poll.immediate-retries must be >= 0, got %d", c.Poll.ImmediateRetries)
	}
	if c.Coalesce.WindowMs <= 0 {
		return fmt.Errorf("coalesce.window-ms must be > 0, got %d", c.Coalesce.WindowMs)
	}
	if c.Console.MaxBuffer < 0 || c.Console.MaxBuffer > 31 {
		return fmt.Errorf("console.max-buffer must be in [0, 31], got %d", c.Console.MaxBuffer)
	}
	if c.MQTT.Enabled && c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.server is required when mqtt is enabled")
	}
	if c.MQTT.Qos > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.Qos)
	}
	return nil
}

// Timeout returns the per-request device timeout.
func (d DeviceConf) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// Interval returns the polling period.
func (p PollConf) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// Window returns the quiescence window of the write coalescer.
func (c CoalesceConf) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}
