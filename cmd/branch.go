package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/workitems/internal/comment"
)

// branchCmd switches to the branch of a work item.
var branchCmd = &cobra.Command{
	Use:   "branch <id>",
	Short: "Switch to the work_item/<id> branch",
	Long: `Switch to the work_item/<id> branch, creating it from the development
branch when it does not exist yet.

Example:
  workitems branch 42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseWorkItemID(args[0])
		if err != nil {
			return err
		}

		ws, _, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		switched, err := ws.CheckoutWorkItemBranch(cmd.Context(), id)
		if err != nil {
			return err
		}

		name := comment.WorkItemBranchName(id)
		if !switched {
			fmt.Fprintf(cmd.OutOrStdout(), "Already on %s\n", name)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s\n", name)
		return nil
	},
}
