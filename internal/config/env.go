package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Load reads `.env` when present, then an optional YAML file named by
// CONFIG_PATH, and finally the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Service:  &ServiceConfig{},
		HTTP:     &HTTPConfig{},
		Redis:    &RedisConfig{},
		Postgres: &PostgresConfig{},
		Asynq:    &AsynqConfig{},
		Worker:   &WorkerConfig{},
		Realtime: &RealtimeConfig{},
		Push:     &PushConfig{},
		Logger:   &LoggerConfig{},
		Tracer:   &TracerConfig{},
	}
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SecretToken == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	switch c.Worker.StatusBackend {
	case "asynq", "memory":
	default:
		return fmt.Errorf("config: unknown STATUS_QUEUE_BACKEND %q", c.Worker.StatusBackend)
	}
	for name, v := range map[string]string{"PRESENCE_BACKEND": c.Realtime.PresenceBackend, "CACHE_BACKEND": c.Realtime.CacheBackend} {
		if v != "memory" && v != "redis" {
			return fmt.Errorf("config: unknown %s %q", name, v)
		}
	}
	if c.Realtime.TypingTTL <= 0 {
		return fmt.Errorf("config: TYPING_TTL must be positive")
	}
	return nil
}
