package commands

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"bgpt/internal/cli"
	"bgpt/internal/configuration"
	"bgpt/internal/fork"
	"bgpt/internal/repository"
	"bgpt/internal/session"
)

// NewChatCmd instantiates and returns the chat command.
func NewChatCmd(config *configuration.Config, repo *repository.Repository, engine *fork.Engine, controller *session.Controller) *cobra.Command {
	var opts struct {
		ConversationID string
		BranchID       string
		Model          string
		Continue       bool
	}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat on a conversation branch",
		Long:  "Open a conversation branch and chat on it. Without flags, starts a new conversation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if opts.Model == "" {
				opts.Model = config.DefaultModel
			}

			branch, err := resolveBranch(ctx, &opts, repo, engine)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("model") {
				branch, err = applyModelOverride(ctx, repo, branch, opts.Model)
				if err != nil {
					return err
				}
			}
			defer controller.Wait()

			cli.Title("%s | conversation %s | branch %d", branch.Model, branch.ConversationID, branch.Position)
			printHistory(branch)

			for {
				text, err := cli.PromptUser()
				if err != nil {
					return nil
				}
				if strings.TrimSpace(text) == "" {
					continue
				}
				cli.UserCommand("Generating...")

				// SIGINT mid-stream cancels the stream only, not the session.
				streamCtx, cancel := context.WithCancel(ctx)
				interrupts := make(chan os.Signal, 1)
				signal.Notify(interrupts, os.Interrupt)
				go func() {
					select {
					case <-interrupts:
						cancel()
					case <-streamCtx.Done():
					}
				}()

				firstToken := true
				_, err = controller.Send(streamCtx, branch.ID, text, func(chunk string) {
					if firstToken {
						cli.AIOutput("\n")
						firstToken = false
					}
					cli.AIOutput(chunk)
				})
				signal.Stop(interrupts)
				cancel()
				cli.AIOutput("\n")

				switch {
				case errors.Is(err, session.ErrStreamAborted):
					cli.UserCommand("#Interrupted\n")
				case err != nil:
					cli.ErrorOutput("error: %v\n", err)
				}

				// Refresh so the next turn sees the persisted messages.
				branch, err = repo.GetBranch(ctx, branch.ID)
				if err != nil {
					return errors.Wrap(err, "refreshing branch")
				}
			}
		},
	}

	cmd.Flags().StringVar(&opts.ConversationID, "conversation", "", "open the first branch of this conversation")
	cmd.Flags().StringVar(&opts.BranchID, "branch", "", "open this branch")
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "model to chat with (persisted onto the branch)")
	cmd.Flags().BoolVarP(&opts.Continue, "continue", "c", false, "continue the most recent conversation")
	return cmd
}

func resolveBranch(
	ctx context.Context,
	opts *struct {
		ConversationID string
		BranchID       string
		Model          string
		Continue       bool
	},
	repo *repository.Repository,
	engine *fork.Engine,
) (*repository.Branch, error) {
	switch {
	case opts.BranchID != "":
		return repo.GetBranch(ctx, opts.BranchID)

	case opts.ConversationID != "":
		return firstBranch(ctx, repo, opts.ConversationID)

	case opts.Continue:
		conversations, err := repo.ListConversations(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "listing conversations")
		}
		if len(conversations) == 0 {
			return nil, errors.New("no conversation to continue")
		}
		return firstBranch(ctx, repo, conversations[0].ID)

	default:
		// Creation requires a usable storage engine; check before writing.
		if !repo.Store().IsAvailable() {
			return nil, errors.New("storage is unavailable; cannot create a conversation")
		}
		_, branch, err := engine.NewConversation(ctx, opts.Model)
		if err != nil {
			return nil, errors.Wrap(err, "creating conversation")
		}
		return branch, nil
	}
}

// applyModelOverride persists an explicit model choice onto an existing
// branch, so the flag is honored rather than silently losing to the branch's
// stored model.
func applyModelOverride(ctx context.Context, repo *repository.Repository, branch *repository.Branch, model string) (*repository.Branch, error) {
	if model == "" || branch.Model == model {
		return branch, nil
	}
	updated, err := repo.UpdateBranch(ctx, &repository.UpdateBranchRequest{
		Branch:     &repository.Branch{ID: branch.ID, Model: model},
		UpdateMask: []string{"model"},
	})
	if err != nil {
		return nil, errors.Wrap(err, "updating branch model")
	}
	return updated, nil
}

func firstBranch(ctx context.Context, repo *repository.Repository, conversationID string) (*repository.Branch, error) {
	branches, err := repo.ListBranches(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "listing branches")
	}
	if len(branches) == 0 {
		return nil, errors.Errorf("conversation %s has no branches", conversationID)
	}
	return branches[0], nil
}

func printHistory(branch *repository.Branch) {
	for _, message := range branch.Messages {
		switch message.Role {
		case repository.RoleUser:
			cli.UserInput("> %s\n", message.Content)
		case repository.RoleAssistant:
			cli.AIOutput(message.Content + "\n")
		}
	}
	if len(branch.MentionedTexts) > 0 {
		cli.BranchInfo("%d pending reference(s) will be folded into your next message\n", len(branch.MentionedTexts))
	}
}
