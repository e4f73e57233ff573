package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/internal/relayer"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	environment string
	configFile  string
	rootCmd     = &cobra.Command{
		Use:   "relayer",
		Short: "MySo bridge relayer",
		RunE:  run,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, args []string) error {
	config.InitLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := relayer.NewService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create relayer service: %w", err)
	}
	defer service.Stop()

	log.Info().Str("env", cfg.Env).Msg("Starting relayer...")
	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("relayer stopped: %w", err)
	}
	log.Info().Msg("Shutting down relayer...")
	return nil
}

// loadConfig reads --config when given, otherwise {config_path}/{env}.json.
func loadConfig() (*config.Config, error) {
	if configFile == "" {
		if err := config.Load(environment); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return config.GlobalConfig, nil
	}
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, err
	}
	cfg.Env = environment
	cfg.Secrets = *secrets
	config.GlobalConfig = cfg
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&environment,
		"env",
		"local",
		"Environment name, selects {config_path}/{env}.json",
	)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a config file, overrides --env lookup")
	_ = viper.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))
	rootCmd.SilenceUsage = true
}
