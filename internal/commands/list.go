package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bgpt/internal/cli"
	"bgpt/internal/repository"
)

// NewListCmd instantiates and returns the list command.
func NewListCmd(repo *repository.Repository) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all conversations",
		Long:  "List all conversations, most recently updated first",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cli.Title("BGPT CONVERSATIONS")

			conversations, err := repo.ListConversations(ctx)
			if err != nil {
				return err
			}
			for _, conversation := range conversations {
				cli.AIOutput(conversationLine(conversation))

				branches, err := repo.ListBranches(ctx, conversation.ID)
				if err != nil {
					return err
				}
				for _, branch := range branches {
					cli.BranchInfo(branchLine(branch))
				}
			}
			return nil
		},
	}
	return cmd
}

// Lines are formatted up front: names and titles are user text, so they must
// never reach a printer as a format string.
func conversationLine(conversation *repository.Conversation) string {
	name := conversation.Name
	if name == "" {
		name = "(untitled)"
	}
	updated := time.UnixMicro(conversation.UpdateTimestamp).String()
	return fmt.Sprintf("%s (%s) - %s\n", name, conversation.ID, updated)
}

func branchLine(branch *repository.Branch) string {
	title := branch.Title
	if title == "" {
		title = "branch"
	}
	return fmt.Sprintf("  [%d] %s (%s) - %d message(s)\n", branch.Position, title, branch.ID, len(branch.Messages))
}
