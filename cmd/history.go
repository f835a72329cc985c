package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spigell/jobpilot/internal/job"
	"github.com/spigell/jobpilot/internal/ledger"
	"github.com/spigell/jobpilot/internal/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs from the ledger",
	Run: func(cmd *cobra.Command, _ []string) {
		history(cmd)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the job records of one run",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		historyShow(args[0])
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.Flags().IntP("limit", "n", 10, "number of runs to show")
}

func history(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		logger.Fatal("reading the limit flag", zap.Error(err))
	}

	runs, err := recentRuns(ctx, config, limit, logger)
	if err != nil {
		logger.Fatal("reading run history", zap.Error(err))
	}

	if len(runs) == 0 {
		logger.Info("no runs recorded yet")
		return
	}

	pretty, _ := json.MarshalIndent(runs, "", "  ")
	fmt.Println(string(pretty))
}

func historyShow(rawID string) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	if config.Ledger.DatabaseURL == "" {
		logger.Fatal("showing run records requires a ledger database",
			zap.String("hint", "set JOBPILOT_DATABASE_URL or ledger.database-url in the configuration"),
		)
	}

	runID, err := uuid.Parse(rawID)
	if err != nil {
		logger.Fatal("parsing the run id", zap.Error(err))
	}

	store, err := ledger.NewPostgres(ctx, config.Ledger.DatabaseURL)
	if err != nil {
		logger.Fatal("opening the ledger", zap.Error(err))
	}
	defer store.Close()

	summary, err := store.Run(ctx, runID)
	if err != nil {
		logger.Fatal("reading the run", zap.Error(err))
	}

	records, err := store.RecordsByRun(ctx, runID)
	if err != nil {
		logger.Fatal("reading run records", zap.Error(err))
	}

	report := struct {
		Run     *job.RunSummary  `json:"run"`
		Records []*job.JobRecord `json:"records"`
	}{Run: summary, Records: records}

	pretty, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(pretty))
}

// recentRuns reads from the database when one is configured and falls back to
// the local history file otherwise.
func recentRuns(ctx context.Context, config *Config, limit int, logger *zap.Logger) ([]*job.RunSummary, error) {
	if config.Ledger.DatabaseURL != "" {
		store, err := ledger.NewPostgres(ctx, config.Ledger.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.RecentRuns(ctx, limit)
	}

	if config.Ledger.HistoryFile == "" {
		return nil, fmt.Errorf("neither ledger.database-url nor ledger.history-file is configured")
	}

	logger.Debug("reading history from file", zap.String("file", config.Ledger.HistoryFile))
	return ledger.NewHistory(config.Ledger.HistoryFile).Recent(limit)
}
