package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bgpt/internal/commands"
	"bgpt/internal/configuration"
	"bgpt/internal/fork"
	"bgpt/internal/llm"
	"bgpt/internal/repository"
	"bgpt/internal/session"
	"bgpt/internal/store"
)

const configFilepath = "~/.config/bgpt/config.json"

var rootCmd = &cobra.Command{
	Use:     "bgpt",
	Short:   "A branching-conversation chat client",
	Version: "1.0",
}

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	config, err := configuration.Parse(configFilepath)
	if err != nil {
		panic(err)
	}

	s, err := openStore(config)
	if err != nil {
		panic(err)
	}
	defer s.Close()

	repo := repository.New(s)
	engine := fork.New(repo)
	controller := session.New(repo, newClient(config), config.TitleModel)

	rootCmd.AddCommand(commands.NewChatCmd(config, repo, engine, controller))
	rootCmd.AddCommand(commands.NewListCmd(repo))
	rootCmd.AddCommand(commands.NewForkCmd(repo, engine))
	rootCmd.AddCommand(commands.NewDeleteCmd(repo, engine))
	rootCmd.AddCommand(commands.NewResetCmd(repo))
	rootCmd.AddCommand(commands.NewExportCmd(repo))
	rootCmd.AddCommand(commands.NewImportCmd(repo))
	rootCmd.Execute()
}

func newClient(config *configuration.Config) llm.Client {
	if config.AnthropicAPIKey != "" {
		log.Debug().Msg("using anthropic client")
		return llm.NewAnthropicClient(config.AnthropicAPIKey)
	}
	return llm.NewOpenAIClient(config.APIKey, config.APIHost)
}

func openStore(config *configuration.Config) (store.Store, error) {
	if config.DatabaseURL != "" {
		log.Debug().Msg("using postgres store")
		return store.NewPostgres(context.Background(), config.DatabaseURL)
	}
	return store.NewSQLite(config.DatabasePath)
}
