package commands

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"bgpt/internal/cli"
	"bgpt/internal/repository"
)

// NewExportCmd instantiates and returns the export command.
func NewExportCmd(repo *repository.Repository) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export all conversations to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			export, err := repo.ExportData(cmd.Context())
			if err != nil {
				return err
			}
			bytes, err := json.MarshalIndent(export, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshaling export")
			}
			if err := os.WriteFile(args[0], bytes, 0644); err != nil {
				return errors.Wrap(err, "writing export file")
			}
			cli.UserCommand("exported %d conversation(s) to %s\n", len(export.Conversations), args[0])
			return nil
		},
	}
	return cmd
}

// NewImportCmd instantiates and returns the import command.
func NewImportCmd(repo *repository.Repository) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import conversations from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bytes, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "reading import file")
			}
			export := &repository.Export{}
			if err := json.Unmarshal(bytes, export); err != nil {
				return errors.Wrap(err, "unmarshaling import")
			}
			if err := repo.ImportData(cmd.Context(), export); err != nil {
				return err
			}
			cli.UserCommand("imported %d conversation(s)\n", len(export.Conversations))
			return nil
		},
	}
	return cmd
}
