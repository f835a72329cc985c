package cmd

import (
	"errors"
	"log"
	"time"

	"github.com/spigell/jobpilot/internal/fit"
	"github.com/spigell/jobpilot/internal/job"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "jobpilot"
)

type Config struct {
	ProfileFile string        `mapstructure:"profile-file"`
	Boards      []string      `mapstructure:"boards"`
	Search      *job.Query    `mapstructure:"search"`
	Run         *RunConfig    `mapstructure:"run"`
	Fit         *fit.Config   `mapstructure:"fit"`
	Tailor      *TailorConfig `mapstructure:"tailor"`
	Ledger      *LedgerConfig `mapstructure:"ledger"`
	Vault       *VaultConfig  `mapstructure:"vault"`
}

type RunConfig struct {
	MaxJobs      int           `mapstructure:"max-jobs"`
	Concurrency  int           `mapstructure:"concurrency"`
	AutoSubmit   bool          `mapstructure:"auto-submit"`
	MaxAttempts  int           `mapstructure:"max-attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff-base"`
	BoardSpacing time.Duration `mapstructure:"board-spacing"`
	TopMatches   int           `mapstructure:"top-matches"`
}

type TailorConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
}

type LedgerConfig struct {
	DatabaseURL string `mapstructure:"database-url"`
	HistoryFile string `mapstructure:"history-file"`
}

type VaultConfig struct {
	File      string `mapstructure:"file"`
	EnvPrefix string `mapstructure:"env-prefix"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobpilot is a cli for discovering job postings, tailoring a resume to them and applying",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ledger.database-url", "JOBPILOT_DATABASE_URL"); err != nil {
		log.Fatalf("binding JOBPILOT_DATABASE_URL environment variable: %v", err)
	}
	if err := viper.BindEnv("tailor.api-key", "GEMINI_API_KEY"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY environment variable: %v", err)
	}

	viper.SetDefault("tailor.enabled", true)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobpilot.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Local .env files carry credentials in development setups.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Only the run command strictly needs a config file; the ledger
		// commands work from environment variables alone.
		if cfgFile == "" && errors.As(err, &notFound) {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		config = &Config{}
	}

	if config.Run == nil {
		config.Run = &RunConfig{}
	}
	if config.Fit == nil {
		config.Fit = &fit.Config{}
	}
	if config.Tailor == nil {
		config.Tailor = &TailorConfig{}
	}
	if config.Ledger == nil {
		config.Ledger = &LedgerConfig{}
	}
	if config.Vault == nil {
		config.Vault = &VaultConfig{}
	}
	if config.Search == nil {
		config.Search = &job.Query{}
	}

	return config, nil
}
