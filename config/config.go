package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	AppName     = "walletfront"
	EnvFileName = "config.env"
)

// Config is the process configuration, read from WALLET_* variables.
type Config struct {
	APIBaseURL       string        `env:"WALLET_API_BASE_URL"`
	TokenKey         string        `env:"WALLET_TOKEN_KEY"`
	DBPath           string        `env:"WALLET_DB_PATH"           envDefault:"session.db"`
	Locale           string        `env:"WALLET_LOCALE"            envDefault:"en-US"`
	ViewportWidth    int           `env:"WALLET_VIEWPORT_WIDTH"    envDefault:"1280"`
	MobileBreakpoint int           `env:"WALLET_MOBILE_BREAKPOINT" envDefault:"768"`
	AppOrigin        string        `env:"WALLET_APP_ORIGIN"        envDefault:"http://127.0.0.1:8787"`
	CallbackAddr     string        `env:"WALLET_CALLBACK_ADDR"     envDefault:"127.0.0.1:8787"`
	GoogleClientID   string        `env:"WALLET_GOOGLE_CLIENT_ID"`
	FacebookClientID string        `env:"WALLET_FACEBOOK_CLIENT_ID"`
	TelegramBotID    string        `env:"WALLET_TELEGRAM_BOT_ID"`
	OAuthTimeout     time.Duration `env:"WALLET_OAUTH_TIMEOUT"     envDefault:"5m"`
	ProfileRefresh   time.Duration `env:"WALLET_PROFILE_REFRESH"   envDefault:"10m"`
}

// RequiredEnvVars must be set for any command to run.
var RequiredEnvVars = []string{"WALLET_API_BASE_URL", "WALLET_TOKEN_KEY"}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.AppOrigin = strings.TrimRight(cfg.AppOrigin, "/")
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if missing := MissingRequired(); len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required config: %s", strings.Join(missing, ", ")))
	}
	if c.ViewportWidth <= 0 {
		errs = append(errs, errors.New("WALLET_VIEWPORT_WIDTH must be positive"))
	}
	if c.MobileBreakpoint <= 0 {
		errs = append(errs, errors.New("WALLET_MOBILE_BREAKPOINT must be positive"))
	}
	return errors.Join(errs...)
}

// MissingRequired returns the names of required variables that are unset.
func MissingRequired() []string {
	var missing []string
	for _, v := range RequiredEnvVars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

// Dir returns the application's config directory, creating it if needed.
func Dir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	configDir := filepath.Join(configBase, AppName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// FilePath returns the full path to the config file.
func FilePath() (string, error) {
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, EnvFileName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
// Variables already set in the environment win.
func LoadEnvFile() {
	configPath, err := FilePath()
	if err != nil {
		return
	}
	_ = godotenv.Load(configPath)
}

// WriteEnvFile merges values into the config file and returns its path.
// The file holds secrets and is written with 0600 permissions.
func WriteEnvFile(values map[string]string) (string, error) {
	configPath, err := FilePath()
	if err != nil {
		return "", err
	}
	return configPath, writeEnvFile(configPath, values)
}

func writeEnvFile(path string, values map[string]string) error {
	existing, err := godotenv.Read(path)
	if err != nil {
		existing = map[string]string{}
	}
	for k, v := range values {
		existing[k] = v
	}

	content, err := godotenv.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	return os.Chmod(path, 0600)
}
