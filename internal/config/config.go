package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RulesFile string `mapstructure:"RULES_FILE"`
	NamesFile string `mapstructure:"NAMES_FILE"`

	WatchInputDir  string `mapstructure:"WATCH_INPUT_DIR"`
	WatchOutputDir string `mapstructure:"WATCH_OUTPUT_DIR"`
	WatchDoneDir   string `mapstructure:"WATCH_DONE_DIR"`

	AuthSecret string `mapstructure:"AUTH_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("RULES_FILE", "configs/rules.yml")
	v.SetDefault("NAMES_FILE", "configs/names.yml")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("RULES_FILE")
	v.BindEnv("NAMES_FILE")
	v.BindEnv("WATCH_INPUT_DIR")
	v.BindEnv("WATCH_OUTPUT_DIR")
	v.BindEnv("WATCH_DONE_DIR")
	v.BindEnv("AUTH_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development); API authentication is disabled")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// WatcherEnabled reports whether the directory watcher should run. All three
// directories must be configured; a partial configuration is rejected by
// Validate.
func (c *Config) WatcherEnabled() bool {
	return c.WatchInputDir != "" && c.WatchOutputDir != "" && c.WatchDoneDir != ""
}

// Validate checks that the configuration is safe to run. Production requires
// a bearer-token secret; the watcher directories must be configured together
// or not at all.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required in production")
	}

	watchDirs := 0
	for _, dir := range []string{c.WatchInputDir, c.WatchOutputDir, c.WatchDoneDir} {
		if dir != "" {
			watchDirs++
		}
	}
	if watchDirs != 0 && watchDirs != 3 {
		return fmt.Errorf("WATCH_INPUT_DIR, WATCH_OUTPUT_DIR, and WATCH_DONE_DIR must be set together")
	}

	return nil
}
