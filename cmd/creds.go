package cmd

import (
	"fmt"
	"log"

	"github.com/spigell/jobpilot/internal/logger"
	"github.com/spigell/jobpilot/internal/vault"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Manage credentials in the local vault file",
}

var credsSetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store a credential, e.g. board/linkedin",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		credsSet(args[0])
	},
}

var credsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential keys",
	Run: func(_ *cobra.Command, _ []string) {
		credsList()
	},
}

var credsRemoveCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Remove a credential",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		credsRemove(args[0])
	},
}

func init() {
	rootCmd.AddCommand(credsCmd)
	credsCmd.AddCommand(credsSetCmd, credsListCmd, credsRemoveCmd)
}

func credsSet(key string) {
	logger, store := credsSetup()

	// The value never touches shell history or process arguments.
	prompt := promptui.Prompt{
		Label: fmt.Sprintf("Value for %s", key),
		Mask:  '*',
	}
	value, err := prompt.Run()
	if err != nil {
		logger.Fatal("reading the credential value", zap.Error(err))
	}

	if err := store.Set(key, value); err != nil {
		logger.Fatal("storing the credential", zap.Error(err))
	}

	logger.Info("credential stored", zap.String("key", key))
}

func credsList() {
	logger, store := credsSetup()

	keys, err := store.Keys()
	if err != nil {
		logger.Fatal("listing credentials", zap.Error(err))
	}

	if len(keys) == 0 {
		logger.Info("vault is empty")
		return
	}
	for _, key := range keys {
		fmt.Println(key)
	}
}

func credsRemove(key string) {
	logger, store := credsSetup()

	if err := store.Delete(key); err != nil {
		logger.Fatal("removing the credential", zap.Error(err))
	}

	logger.Info("credential removed", zap.String("key", key))
}

func credsSetup() (*zap.Logger, *vault.File) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	if config.Vault.File == "" {
		logger.Fatal("vault file is not configured",
			zap.String("hint", "set vault.file in the configuration"),
		)
	}

	return logger, vault.NewFile(config.Vault.File)
}
