// Package config loads and validates the bot configuration. Values come
// from built-in defaults, then command-line flags, then environment
// variables (the strongest source). A .env file is honored when present.
//
// The Telegram bot credential and the VK service credential have no
// built-in fallback: the process refuses to start without them.
package config

import (
	"flag"
	"log"
	"os"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config describes every runtime setting of the bot.
type Config struct {
	BotToken            string        `env:"BOT_TOKEN" validate:"required"`
	VKToken             string        `env:"VK_TOKEN" validate:"required"`
	LogLevel            string        `env:"LOG_LEVEL" validate:"loglevel"`
	DBFileName          string        `env:"FILE_STORAGE_PATH" validate:"filepath"`
	DatabaseDSN         string        `env:"DATABASE_DSN"`
	DBConnectionTimeout time.Duration `env:"DB_CONNECTION_TIMEOUT"`
	MigrationsDir       string        `env:"MIGRATIONS_DIR"`
	DebugAddr           string        `env:"DEBUG_ADDRESS"`
	TrustedSubnet       string        `env:"TRUSTED_SUBNET"`
	StatsCacheTTL       time.Duration `env:"STATS_CACHE_TTL"`
	StatsCacheSweep     time.Duration `env:"STATS_CACHE_SWEEP"`
	PollTimeout         time.Duration `env:"POLL_TIMEOUT"`
}

func validateFilePath(fieldLevel validator.FieldLevel) bool {
	path := fieldLevel.Field().String()
	if path == "" {
		return true
	}
	_, err := os.Stat(path)

	return err == nil || os.IsNotExist(err)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()

	allowedLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	return allowedLogLevels[value]
}

func validate(cfg *Config) error {
	theValidator := validator.New()

	err := theValidator.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	err = theValidator.RegisterValidation("filepath", validateFilePath)
	if err != nil {
		return err
	}

	return theValidator.Struct(cfg)
}

// InitOption customizes New behavior.
type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
}

// WithDisableFlagsParsing disables command-line flag parsing.
// Tests use it to avoid clashing with the `go test` flag set.
func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// New assembles the configuration from defaults, flags and environment,
// then validates it.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	err := godotenv.Load()
	if err != nil {
		log.Printf("Unable to load .env file: %v", err)
	}

	cfg := &Config{
		LogLevel:            "info",
		DBFileName:          "links.db",
		DBConnectionTimeout: 10 * time.Second,
		MigrationsDir:       "migrations",
		StatsCacheTTL:       5 * time.Minute,
		StatsCacheSweep:     time.Minute,
		PollTimeout:         30 * time.Second,
	}
	if !options.disableFlagsParsing {
		flag.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "logger level")
		flag.StringVar(&cfg.DBFileName, "f", cfg.DBFileName, "SQLite database file name")
		flag.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "A string with the database connection details")
		flag.Parse()
	}

	var valuesFromEnv Config
	err = env.Parse(&valuesFromEnv)
	if err != nil {
		return nil, err
	}

	cfg.BotToken = valuesFromEnv.BotToken
	cfg.VKToken = valuesFromEnv.VKToken

	if valuesFromEnv.LogLevel != "" {
		cfg.LogLevel = valuesFromEnv.LogLevel
	}

	if valuesFromEnv.DBFileName != "" {
		cfg.DBFileName = valuesFromEnv.DBFileName
	}

	if valuesFromEnv.DatabaseDSN != "" {
		cfg.DatabaseDSN = valuesFromEnv.DatabaseDSN
	}

	if valuesFromEnv.DBConnectionTimeout != 0 {
		cfg.DBConnectionTimeout = valuesFromEnv.DBConnectionTimeout
	}

	if valuesFromEnv.MigrationsDir != "" {
		cfg.MigrationsDir = valuesFromEnv.MigrationsDir
	}

	if valuesFromEnv.DebugAddr != "" {
		cfg.DebugAddr = valuesFromEnv.DebugAddr
	}

	if valuesFromEnv.TrustedSubnet != "" {
		cfg.TrustedSubnet = valuesFromEnv.TrustedSubnet
	}

	if valuesFromEnv.StatsCacheTTL != 0 {
		cfg.StatsCacheTTL = valuesFromEnv.StatsCacheTTL
	}

	if valuesFromEnv.StatsCacheSweep != 0 {
		cfg.StatsCacheSweep = valuesFromEnv.StatsCacheSweep
	}

	if valuesFromEnv.PollTimeout != 0 {
		cfg.PollTimeout = valuesFromEnv.PollTimeout
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
