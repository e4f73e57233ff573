package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// InitLogger configures the global zerolog logger. Local and dev
// environments get a console writer, everything else JSON.
func InitLogger() {
	viper.AutomaticEnv()
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil || viper.GetString("LOG_LEVEL") == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	switch viper.GetString("env") {
	case "", "local", "dev", "development":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	default:
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
