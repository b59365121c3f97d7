package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	BackendFile      = "file"
	BackendFirestore = "firestore"

	// UndatedAdmit emits offers whose publication date could not be resolved
	// (fail-open); UndatedSkip rejects them (fail-closed).
	UndatedAdmit = "admit"
	UndatedSkip  = "skip"
)

type Config struct {
	Port string

	APIBase   string `validate:"required,url"`
	UserAgent string `validate:"required"`

	StateBackend string `validate:"oneof=file firestore"`
	StateFile    string
	ProjectID    string

	SeenLimit                int `validate:"gt=0"`
	MaxPages                 int `validate:"gt=0"`
	MaxConsecutiveDuplicates int `validate:"gt=0"`
	PageLimit                int `validate:"gt=0"`

	FreshnessWindow time.Duration `validate:"gt=0"`
	UndatedPolicy   string        `validate:"oneof=admit skip"`

	RequestDelay    time.Duration
	HTTPTimeout     time.Duration `validate:"gt=0"`
	PollTimeout     time.Duration `validate:"gt=0"`
	PollConcurrency int           `validate:"gt=0"`

	TelegramBotToken string
	TelegramChatID   string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:         envOr("PORT", "8080"),
		APIBase:      envOr("API_BASE", "https://www.olx.ro/api/v1/offers/"),
		UserAgent:    envOr("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"),
		StateBackend: envOr("STATE_BACKEND", BackendFile),
		StateFile:    envOr("STATE_FILE", "state.json"),
		ProjectID:    os.Getenv("GOOGLE_CLOUD_PROJECT"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}

	var err error
	if cfg.SeenLimit, err = envInt("SEEN_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.MaxPages, err = envInt("MAX_PAGES", 5); err != nil {
		return nil, err
	}
	if cfg.MaxConsecutiveDuplicates, err = envInt("MAX_CONSECUTIVE_DUPLICATES", 5); err != nil {
		return nil, err
	}
	if cfg.PageLimit, err = envInt("PAGE_LIMIT", 40); err != nil {
		return nil, err
	}
	if cfg.PollConcurrency, err = envInt("POLL_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.FreshnessWindow, err = envDuration("FRESHNESS_WINDOW", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RequestDelay, err = envDuration("REQUEST_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = envDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = envDuration("POLL_TIMEOUT", 4*time.Minute); err != nil {
		return nil, err
	}

	cfg.UndatedPolicy = envOr("UNDATED_POLICY", UndatedAdmit)

	if cfg.StateBackend == BackendFirestore && cfg.ProjectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT is required when STATE_BACKEND=firestore")
	}
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		slog.Warn("TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID not set, notifications will be skipped")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}
