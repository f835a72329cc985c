package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spigell/jobpilot/internal/job"
	"github.com/spigell/jobpilot/internal/ledger"
	"github.com/spigell/jobpilot/internal/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record and inspect recruiter feedback for past runs",
}

var feedbackAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a feedback entry to a run",
	Run: func(cmd *cobra.Command, _ []string) {
		feedbackAdd(cmd)
	},
}

var feedbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List feedback entries for a run",
	Run: func(cmd *cobra.Command, _ []string) {
		feedbackList(cmd)
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
	feedbackCmd.AddCommand(feedbackAddCmd, feedbackListCmd)

	feedbackAddCmd.Flags().StringP("run", "r", "", "run id the feedback belongs to")
	feedbackAddCmd.Flags().String("job", "", "job id within the run. Optional.")
	feedbackAddCmd.Flags().StringP("outcome", "o", "", "outcome, e.g. interview, rejection, offer")
	feedbackAddCmd.Flags().StringP("note", "m", "", "free-form note")
	feedbackAddCmd.MarkFlagRequired("run")
	feedbackAddCmd.MarkFlagRequired("outcome")

	feedbackListCmd.Flags().StringP("run", "r", "", "run id to list feedback for")
	feedbackListCmd.MarkFlagRequired("run")
}

func feedbackAdd(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	store, runID := feedbackSetup(ctx, cmd, logger)
	defer store.Close()

	entry := &job.FeedbackEntry{
		RunID:      runID,
		Outcome:    flagString(cmd, "outcome"),
		Note:       flagString(cmd, "note"),
		ReceivedAt: time.Now().UTC(),
	}

	if raw := flagString(cmd, "job"); raw != "" {
		jobID, err := uuid.Parse(raw)
		if err != nil {
			logger.Fatal("parsing the job id", zap.Error(err))
		}
		entry.JobID = jobID
	}

	if err := store.AppendFeedback(ctx, entry); err != nil {
		logger.Fatal("appending feedback", zap.Error(err))
	}

	logger.Info("feedback recorded",
		zap.String("run_id", entry.RunID.String()),
		zap.String("outcome", entry.Outcome),
	)
}

func feedbackList(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	store, runID := feedbackSetup(ctx, cmd, logger)
	defer store.Close()

	entries, err := store.FeedbackByRun(ctx, runID)
	if err != nil {
		logger.Fatal("listing feedback", zap.Error(err))
	}

	if len(entries) == 0 {
		logger.Info("no feedback recorded for run", zap.String("run_id", runID.String()))
		return
	}

	pretty, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(pretty))
}

// feedbackSetup opens the database ledger and parses the run id flag.
// Feedback always needs the database: the in-memory ledger dies with the run
// process.
func feedbackSetup(ctx context.Context, cmd *cobra.Command, logger *zap.Logger) (ledger.Ledger, uuid.UUID) {
	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	if config.Ledger.DatabaseURL == "" {
		logger.Fatal("feedback requires a ledger database",
			zap.String("hint", "set JOBPILOT_DATABASE_URL or ledger.database-url in the configuration"),
		)
	}

	runID, err := uuid.Parse(flagString(cmd, "run"))
	if err != nil {
		logger.Fatal("parsing the run id", zap.Error(err))
	}

	store, err := ledger.NewPostgres(ctx, config.Ledger.DatabaseURL)
	if err != nil {
		logger.Fatal("opening the ledger", zap.Error(err))
	}

	return store, runID
}

func flagString(cmd *cobra.Command, name string) string {
	value, _ := cmd.Flags().GetString(name)
	return value
}
