package commands

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"bgpt/internal/cli"
	"bgpt/internal/fork"
	"bgpt/internal/repository"
	"bgpt/internal/store"
)

// NewDeleteCmd instantiates and returns the delete command.
func NewDeleteCmd(repo *repository.Repository, engine *fork.Engine) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <conversation-id|branch-id>",
		Short: "Delete a conversation or a branch",
		Long: "Delete a conversation (with all its branches and messages), or a single " +
			"non-first branch (with its messages).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			if _, err := repo.GetConversation(ctx, id); err == nil {
				if err := repo.DeleteConversation(ctx, id); err != nil {
					return err
				}
				cli.UserCommand("deleted conversation %s\n", id)
				return nil
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			if err := engine.DeleteBranch(ctx, id); err != nil {
				return err
			}
			cli.UserCommand("deleted branch %s\n", id)
			return nil
		},
	}
	return cmd
}

// NewResetCmd instantiates and returns the reset command.
func NewResetCmd(repo *repository.Repository) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all conversations",
		Long:  "Wipe every conversation, branch and message from storage",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cli.QueryUser("Delete ALL conversations?") {
				return nil
			}
			if err := repo.ClearAll(cmd.Context()); err != nil {
				return err
			}
			cli.UserCommand("storage cleared\n")
			return nil
		},
	}
	return cmd
}
