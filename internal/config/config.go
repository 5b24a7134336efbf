package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yml"

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Repository  RepositoryConfig  `yaml:"repository"`
	Reminder    ReminderConfig    `yaml:"reminder"`
	Preferences PreferencesConfig `yaml:"preferences"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	Host           string        `yaml:"host"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RateLimit — мутирующих запросов в минуту на весь сервер, 0 выключает ограничение
	RateLimit int `yaml:"rate_limit"`
}

type DatabaseConfig struct {
	// Path — файл SQLite
	Path           string        `yaml:"path"`
	URL            string        `yaml:"url"`
	MaxConnections int           `yaml:"max_connections"`
	MinConnections int           `yaml:"min_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

type LoggingConfig struct {
	Development bool `yaml:"development"`
}

type RepositoryConfig struct {
	Type string `yaml:"type"` // "sqlite", "postgres" или "inmemory"
}

type ReminderConfig struct {
	// LeadTime — насколько раньше срока срабатывает напоминание
	LeadTime  time.Duration `yaml:"lead_time"`
	QueueSize int           `yaml:"queue_size"`
}

type PreferencesConfig struct {
	Path string `yaml:"path"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "localhost",
			RequestTimeout: 10 * time.Second,
			RateLimit:      120,
		},
		Database: DatabaseConfig{
			Path:           "data/tasks.db",
			MaxConnections: 10,
			MinConnections: 2,
			IdleTimeout:    5 * time.Minute,
		},
		Repository: RepositoryConfig{Type: "sqlite"},
		Reminder:   ReminderConfig{QueueSize: 64},
		Preferences: PreferencesConfig{
			Path: "data/preferences.yml",
		},
	}
}

// Load подхватывает .env, читает YAML поверх значений по умолчанию и
// применяет переменные окружения. Пустой path означает TASKS_CONFIG или
// config.yml; отсутствие файла по умолчанию не ошибка.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("не могу загрузить .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv("TASKS_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("ошибка парсинга %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("не могу открыть %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("TASKS_DB_DRIVER"); ok {
		c.Repository.Type = v
	}
	if v, ok := os.LookupEnv("TASKS_DB_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := os.LookupEnv("TASKS_DB_URL"); ok {
		c.Database.URL = v
	}
	if v, ok := os.LookupEnv("TASKS_ADDR"); ok {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("TASKS_ADDR: %w", err)
		}
		c.Server.Host, c.Server.Port = host, port
	}
	if v, ok := os.LookupEnv("TASKS_DEV"); ok {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TASKS_DEV: %w", err)
		}
		c.Logging.Development = dev
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Repository.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path обязателен для sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url обязателен для postgres")
		}
	case "inmemory":
	default:
		return fmt.Errorf("неизвестный тип репозитория %q", c.Repository.Type)
	}
	if c.Reminder.LeadTime < 0 {
		return errors.New("reminder.lead_time не может быть отрицательным")
	}
	return nil
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
