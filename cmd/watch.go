package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/workitems/internal/reconcile"
	"github.com/danielolaszy/workitems/internal/workspace"
	"github.com/danielolaszy/workitems/pkg/models"
)

// watchCmd reports work items gaining pending commits while you work.
var watchCmd = &cobra.Command{
	Use:   "watch [filter]",
	Short: "Report work items with new pending commits as the repository changes",
	Long: `List the work items once, then watch the repository. Commits, checkouts
and branch updates trigger a reconciliation at most once every two seconds,
and the work items with pending commits are printed.

Stop with Ctrl+C.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := ""
		if len(args) > 0 {
			filter = args[0]
		}

		out := cmd.OutOrStdout()
		ws, _, err := openWorkspace(cmd, workspace.OnChange(func(affected []reconcile.WorkItemCommits) {
			fmt.Fprintln(out, "Pending changes:")
			for _, wc := range affected {
				writeText(out, []models.Entry{models.WorkItemEntry(wc.WorkItem, wc.MentionedIn)})
			}
		}))
		if err != nil {
			return err
		}
		defer ws.Close()

		if _, err := ws.Refresh(cmd.Context(), filter); err != nil {
			return fmt.Errorf("failed to refresh work items: %w", err)
		}
		writeText(out, ws.Entries())

		if err := ws.Watch(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(out, "Watching for changes, press Ctrl+C to stop")
		<-cmd.Context().Done()
		return nil
	},
}
