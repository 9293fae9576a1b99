package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/kanban/internal/models"
	"github.com/joescharf/kanban/internal/output"
	"github.com/joescharf/kanban/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [batch-id]",
	Short: "List past task imports",
	Long: `List the batches created from the web UI, newest first.

With a batch id, show that batch and the Jira issues it created.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore(cmd.Context())
		if err != nil {
			return err
		}
		if len(args) == 1 {
			return historyShowRun(cmd.Context(), s, args[0])
		}
		return historyListRun(cmd.Context(), s)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of batches to list (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func historyListRun(ctx context.Context, s store.Store) error {
	batches, err := s.ListBatches(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		ui.Info("No imports yet. Run 'kanban serve' and create some tasks.")
		return nil
	}

	table := ui.Table([]string{"ID", "Project", "Source", "Created", "Status", "Started"})
	for _, b := range batches {
		_ = table.Append([]string{
			b.ID,
			b.ProjectKey,
			b.Source,
			output.ProgressColor(b.CreatedRows, b.TotalRows),
			output.StatusColor(string(b.Status)),
			b.StartedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}

func historyShowRun(ctx context.Context, s store.Store, id string) error {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	issues, err := s.ListBatchIssues(ctx, id)
	if err != nil {
		return err
	}

	printBatch(ui.Out, b)
	if len(issues) == 0 {
		return nil
	}

	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"Row", "Issue", "Summary"})
	for _, is := range issues {
		_ = table.Append([]string{
			strconv.Itoa(is.RowIndex + 1),
			output.Cyan(is.IssueKey),
			is.Summary,
		})
	}
	return table.Render()
}

func printBatch(w io.Writer, b *models.ImportBatch) {
	fmt.Fprintf(w, "Batch:    %s\n", b.ID)
	fmt.Fprintf(w, "Project:  %s\n", b.ProjectKey)
	fmt.Fprintf(w, "Site:     %s\n", b.CloudID)
	fmt.Fprintf(w, "Source:   %s\n", b.Source)
	fmt.Fprintf(w, "Created:  %s\n", output.ProgressColor(b.CreatedRows, b.TotalRows))
	fmt.Fprintf(w, "Status:   %s\n", output.StatusColor(string(b.Status)))
	fmt.Fprintf(w, "Started:  %s\n", b.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if b.FinishedAt != nil {
		fmt.Fprintf(w, "Finished: %s\n", b.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if b.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", output.Red(b.Error))
	}
}
