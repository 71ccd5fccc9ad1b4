package commands

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"bgpt/internal/cli"
	"bgpt/internal/fork"
	"bgpt/internal/repository"
)

// NewForkCmd instantiates and returns the fork command.
func NewForkCmd(repo *repository.Repository, engine *fork.Engine) *cobra.Command {
	var opts struct {
		TargetBranchID string
	}

	cmd := &cobra.Command{
		Use:   "fork <source-branch-id> <source-message-id> <selected-text>",
		Short: "Fork a branch from a text selection",
		Long: "Create a new sibling branch seeded by text selected from an existing message, " +
			"or queue the selection onto an existing branch with --onto.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sourceBranchID, sourceMessageID, selectedText := args[0], args[1], args[2]

			if opts.TargetBranchID != "" {
				if err := engine.BranchToExisting(ctx, opts.TargetBranchID, selectedText); err != nil {
					return err
				}
				cli.BranchInfo("queued reference onto branch %s\n", opts.TargetBranchID)
				return nil
			}

			source, err := repo.GetBranch(ctx, sourceBranchID)
			if err != nil {
				return errors.Wrap(err, "retrieving source branch")
			}
			branch, err := engine.BranchToNew(ctx, source.ConversationID, sourceBranchID, sourceMessageID, selectedText)
			if err != nil {
				return err
			}
			cli.BranchInfo("forked branch %s at position %d\n", branch.ID, branch.Position)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.TargetBranchID, "onto", "", "queue the selection onto this existing branch instead of forking")
	return cmd
}
