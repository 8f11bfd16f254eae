// Package config loads rowquery CLI configuration from config files,
// environment variables and .env files.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

var AppFs = afero.NewOsFs()

// Config holds the CLI configuration.
type Config struct {
	SQLPath        string // root directory of the SQL registry
	MigrationsPath string // directory of NNN_description.sql files
	Driver         string // sqlite, postgres or mysql
	DatabaseURL    string // DSN for the selected driver
	Debug          bool
}

// Load reads configuration from .rowquery.yaml (current dir, home,
// ~/.config/rowquery), ROWQUERY_* environment variables and .env files.
// Precedence, lowest to highest: defaults, config file, .env, environment,
// .env.local.
func Load() (*Config, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	viper.SetConfigName(".rowquery")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(home)
	viper.AddConfigPath(filepath.Join(home, ".config", "rowquery"))

	viper.SetEnvPrefix("ROWQUERY")
	viper.AutomaticEnv()

	viper.SetDefault("sql_path", "sql")
	viper.SetDefault("migrations_path", "migrations")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("debug", false)

	// Config file is optional.
	_ = viper.ReadInConfig()

	if _, err := AppFs.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
	// .env.local overrides everything already in the environment.
	if _, err := AppFs.Stat(".env.local"); err == nil {
		_ = godotenv.Overload(".env.local")
	}

	cfg := &Config{
		SQLPath:        viper.GetString("sql_path"),
		MigrationsPath: viper.GetString("migrations_path"),
		Driver:         viper.GetString("driver"),
		DatabaseURL:    viper.GetString("database_url"),
		Debug:          viper.GetBool("debug"),
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

// Save writes the configuration to ~/.config/rowquery/.rowquery.yaml.
func Save(cfg *Config) error {
	viper.Set("sql_path", cfg.SQLPath)
	viper.Set("migrations_path", cfg.MigrationsPath)
	viper.Set("driver", cfg.Driver)
	viper.Set("database_url", cfg.DatabaseURL)
	viper.Set("debug", cfg.Debug)

	home, err := homedir.Dir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".config", "rowquery")
	if err := AppFs.MkdirAll(configDir, 0o755); err != nil {
		return err
	}
	return viper.WriteConfigAs(filepath.Join(configDir, ".rowquery.yaml"))
}
