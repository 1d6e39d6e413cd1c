// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken = "TELEGRAM_TOKEN"
	KeyBotUsername   = "BOT_USERNAME"
	KeyGameURL       = "GAME_URL"
	KeyMongoURI      = "MONGO_URI"
	KeyMongoDB       = "MONGO_DB"
	KeyAppEnv        = "APP_ENV"
	KeyLogLevel      = "LOG_LEVEL"
	KeyHTTPPort      = "HTTP_PORT"
	KeySyncInterval  = "SYNC_INTERVAL"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv       = EnvProduction
	DefaultLogLevel     = "info"
	DefaultHTTPPort     = 8080
	DefaultGameURL      = "https://zippy-torte-7326f1.netlify.app"
	DefaultSyncInterval = 30
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotUsername,
		Example:     "SurvivalArenaGameBot",
		Required:    true,
		Description: "Bot username used to build referral deep links.",
	},
	{
		Key:         KeyGameURL,
		Example:     DefaultGameURL,
		Default:     DefaultGameURL,
		Description: "Game URL included in welcome messages.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string. Leave unset to run without durability.",
		Notes:       "Must be set together with " + KeyMongoDB + ".",
	},
	{
		Key:         KeyMongoDB,
		Example:     "tg_rewards / tg_rewards_dev",
		Description: "MongoDB database name for the account snapshot store.",
		Notes:       "Must be set together with " + KeyMongoURI + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP API and health port.",
	},
	{
		Key:         KeySyncInterval,
		Example:     strconv.Itoa(DefaultSyncInterval),
		Default:     strconv.Itoa(DefaultSyncInterval),
		Description: "Seconds between account snapshot flushes to MongoDB.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken string
	BotUsername   string
	GameURL       string
	MongoURI      string
	MongoDB       string
	AppEnv        string
	LogLevel      string
	HTTPPort      int
	SyncInterval  int
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:        firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken: strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		BotUsername:   strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(os.Getenv(KeyBotUsername)), "@")),
		GameURL:       firstNonEmpty(strings.TrimSpace(os.Getenv(KeyGameURL)), DefaultGameURL),
		MongoURI:      strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:       strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:      firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:      DefaultHTTPPort,
		SyncInterval:  DefaultSyncInterval,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	if cfg.BotUsername == "" {
		missing = append(missing, KeyBotUsername)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if (cfg.MongoURI == "") != (cfg.MongoDB == "") {
		return Config{}, fmt.Errorf("%s and %s must be set together", KeyMongoURI, KeyMongoDB)
	}

	if cfg.MongoURI != "" {
		if err := validateMongoURI(cfg.MongoURI); err != nil {
			return Config{}, err
		}
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	syncRaw := strings.TrimSpace(os.Getenv(KeySyncInterval))
	if syncRaw != "" {
		interval, parseErr := strconv.Atoi(syncRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeySyncInterval, parseErr)
		}
		if interval <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeySyncInterval)
		}
		cfg.SyncInterval = interval
	}

	return cfg, nil
}

// HasMongo reports whether a MongoDB snapshot store is configured.
func (c Config) HasMongo() bool {
	return c.MongoURI != "" && c.MongoDB != ""
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the configuration for diagnostics with secrets
// masked: the telegram token keeps a short prefix and mongo credentials are
// stripped from the URI.
func FormatRedacted(c Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "telegram_token: %s\n", redactToken(c.TelegramToken))
	fmt.Fprintf(&b, "bot_username: %s\n", c.BotUsername)
	fmt.Fprintf(&b, "game_url: %s\n", c.GameURL)
	fmt.Fprintf(&b, "mongo_uri: %s\n", redactMongoURI(c.MongoURI))
	fmt.Fprintf(&b, "mongo_db: %s\n", c.MongoDB)
	fmt.Fprintf(&b, "app_env: %s\n", c.AppEnv)
	fmt.Fprintf(&b, "log_level: %s\n", c.LogLevel)
	fmt.Fprintf(&b, "http_port: %d\n", c.HTTPPort)
	fmt.Fprintf(&b, "sync_interval: %d", c.SyncInterval)

	return b.String()
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "redacted"
	}
	return token[:4] + "...redacted"
}

func redactMongoURI(uri string) string {
	if uri == "" {
		return ""
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return "redacted"
	}

	parsed.User = nil
	return parsed.String()
}

func validateMongoURI(uri string) error {
	if strings.HasPrefix(uri, "mongodb://") || strings.HasPrefix(uri, "mongodb+srv://") {
		return nil
	}

	return fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
