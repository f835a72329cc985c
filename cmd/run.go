package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spigell/jobpilot/internal/agents"
	"github.com/spigell/jobpilot/internal/agents/lever"
	"github.com/spigell/jobpilot/internal/agents/linkedin"
	"github.com/spigell/jobpilot/internal/agents/remoteok"
	"github.com/spigell/jobpilot/internal/job"
	"github.com/spigell/jobpilot/internal/ledger"
	"github.com/spigell/jobpilot/internal/logger"
	"github.com/spigell/jobpilot/internal/orchestrator"
	"github.com/spigell/jobpilot/internal/tailor"
	"github.com/spigell/jobpilot/internal/vault"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"

	defaultVaultEnvPrefix = "JOBPILOT"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover postings, score them against the profile and apply",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before submitting applications")
	runCmd.Flags().StringP("profile-file", "p", "", "applicant profile file. Default is profile-file from the config.")
	runCmd.Flags().Bool("auto-submit", false, "submit applications instead of stopping at review")
	runCmd.Flags().Int("max-jobs", 0, "cap the number of postings processed in one run")

	viper.BindPFlag("profile-file", runCmd.Flags().Lookup("profile-file"))
	viper.BindPFlag("run.auto-submit", runCmd.Flags().Lookup("auto-submit"))
	viper.BindPFlag("run.max-jobs", runCmd.Flags().Lookup("max-jobs"))
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the jobpilot", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config.ProfileFile == "" {
		logger.Fatal("profile file is required",
			zap.String("hint", "set profile-file in the config or pass --profile-file"),
		)
	}

	profile, err := job.LoadProfile(config.ProfileFile)
	if err != nil {
		logger.Fatal("loading the profile", zap.Error(err))
	}
	if config.Search != nil && (len(config.Search.Keywords) > 0 || len(config.Search.Locations) > 0 || config.Search.MinCompensation > 0) {
		profile.Preferences = *config.Search
	}

	logger.Info("profile loaded",
		zap.String("applicant", profile.Contact.FullName),
		zap.Strings("keywords", profile.Preferences.Keywords),
	)

	if config.Run.AutoSubmit && !autoApproved(cmd) {
		if !confirmAutoSubmit() {
			logger.Info("exiting", zap.String("reason", "auto-submit not confirmed"))
			return
		}
	}

	store, err := openLedger(ctx, config, logger)
	if err != nil {
		logger.Fatal("opening the ledger", zap.Error(err))
	}
	defer store.Close()

	orch, err := orchestrator.New(
		orchestrator.Config{
			Boards:       config.Boards,
			MaxJobs:      config.Run.MaxJobs,
			Concurrency:  config.Run.Concurrency,
			AutoSubmit:   config.Run.AutoSubmit,
			Fit:          *config.Fit,
			MaxAttempts:  config.Run.MaxAttempts,
			BackoffBase:  config.Run.BackoffBase,
			BoardSpacing: config.Run.BoardSpacing,
			TopMatches:   config.Run.TopMatches,
		},
		orchestrator.Deps{
			Registry: newRegistry(config, logger),
			Tailor:   newTailor(ctx, config.Tailor, logger),
			Ledger:   store,
			Vault:    newVault(config.Vault),
			Logger:   logger,
		},
	)
	if err != nil {
		logger.Fatal("building the orchestrator", zap.Error(err))
	}

	summary, err := orch.Run(ctx, profile)
	if err != nil {
		if summary == nil {
			logger.Fatal("run failed", zap.Error(err))
		}
		logger.Warn("run finished with errors", zap.Error(err))
	}

	appendHistory(config, summary, logger)
	printSummary(summary)
}

func autoApproved(cmd *cobra.Command) bool {
	flag := cmd.Flag("auto-approve")
	return flag != nil && strings.EqualFold(flag.Value.String(), "true")
}

func confirmAutoSubmit() bool {
	prompt := promptui.Select{
		Label: "Auto-submit is enabled: applications will be sent without review. Proceed?",
		Items: []string{PromptYes, PromptNo},
	}
	_, answer, err := prompt.Run()
	return err == nil && answer == PromptYes
}

func newRegistry(config *Config, log *zap.Logger) *agents.Registry {
	registry := agents.NewRegistry()
	registry.RegisterScraper(remoteok.New(logger.WithBoard(log, "remoteok")))
	registry.RegisterScraper(linkedin.New(logger.WithBoard(log, "linkedin")))
	registry.RegisterBot(lever.New(true, logger.WithBoard(log, "lever")))
	return registry
}

// newTailor builds the Gemini tailor when a key is available, and the
// degrading stand-in otherwise. A missing key must not stop a run.
func newTailor(ctx context.Context, cfg *TailorConfig, log *zap.Logger) agents.Tailor {
	if !cfg.Enabled {
		return tailor.Unavailable{Reason: "tailoring disabled in configuration"}
	}

	apiKey, err := vault.Load(vault.Source{
		Name:  "gemini api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
	})
	if err != nil {
		log.Warn("tailoring unavailable, applying with the base resume",
			zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY or tailor.api-key-file in the configuration"),
		)
		return tailor.Unavailable{Reason: "no gemini api key configured"}
	}

	genLogger := logger.WithTailor(log, "gemini", cfg.Model)

	generator, err := tailor.NewGenerator(ctx, apiKey, cfg.Model, cfg.MaxRetries, genLogger)
	if err != nil {
		log.Warn("building the gemini generator failed, applying with the base resume", zap.Error(err))
		return tailor.Unavailable{Reason: "gemini generator unavailable"}
	}

	return tailor.New(generator, genLogger, cfg.MaxLogLength)
}

func newVault(cfg *VaultConfig) vault.Resolver {
	prefix := cfg.EnvPrefix
	if prefix == "" {
		prefix = defaultVaultEnvPrefix
	}

	chain := vault.Chain{vault.Env{Prefix: prefix}}
	if cfg.File != "" {
		chain = append(vault.Chain{vault.NewFile(cfg.File)}, chain...)
	}
	return chain
}

// openLedger prefers the database; without one the run keeps records in
// memory and only the history file survives the process.
func openLedger(ctx context.Context, config *Config, logger *zap.Logger) (ledger.Ledger, error) {
	if config.Ledger.DatabaseURL != "" {
		return ledger.NewPostgres(ctx, config.Ledger.DatabaseURL)
	}

	logger.Warn("no ledger database configured, records are kept in memory for this run",
		zap.String("hint", "set JOBPILOT_DATABASE_URL or ledger.database-url in the configuration"),
	)
	return ledger.NewMemory(), nil
}

func appendHistory(config *Config, summary *job.RunSummary, logger *zap.Logger) {
	if config.Ledger.HistoryFile == "" || summary == nil {
		return
	}

	history := ledger.NewHistory(config.Ledger.HistoryFile)
	if err := history.Append(summary); err != nil {
		logger.Error("appending run to history file", zap.Error(err))
	}
}

func printSummary(summary *job.RunSummary) {
	if summary == nil {
		return
	}
	pretty, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(pretty))
}
