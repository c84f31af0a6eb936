package config

import (
	"fmt"

	"github.com/clinaudit/formrunner/internal/db"
	"github.com/spf13/viper"
)

// Runner holds batch-run settings that are not per-invocation flags.
type Runner struct {
	Verbose   bool
	ExportDir string
}

// DefaultRunner returns the default runner configuration.
func DefaultRunner() Runner {
	return Runner{
		Verbose:   true,
		ExportDir: "./exports",
	}
}

func Load(configPath string) (db.Config, Runner, error) {
	// Start with defaults
	cfg := db.DefaultConfig()
	run := DefaultRunner()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()     // allow environment overrides
	v.SetEnvPrefix("DB") // map env vars like DB_HOST, DB_PORT

	// Optional: Map nested keys to flat env vars
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	// Override defaults if values exist
	if v.IsSet("database.host") {
		cfg.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("runner.verbose") {
		run.Verbose = v.GetBool("runner.verbose")
	}
	if v.IsSet("runner.export_dir") {
		run.ExportDir = v.GetString("runner.export_dir")
	}

	return cfg, run, nil
}
