package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/workitems/internal/poller"
	"github.com/danielolaszy/workitems/internal/workspace"
)

// checkinCmd checks in the pending commits of one work item.
var checkinCmd = &cobra.Command{
	Use:   "checkin <id>",
	Short: "Check in the pending commits of a work item",
	Long: `Check in the local commits that reference a work item and are not on the
remote yet.

The commits are cherry-picked in authoring order onto a temporary branch
tmp/_tmp_<branch>_<id>_<timestamp>, which is pushed and proposed as a pull
request against the current branch. Active pull requests get auto-complete
enabled. Any failure after the temporary branch was created deletes it again.

Unless --no-wait is given, the command waits for the pull request to complete
and then fetches with pruning.

Example:
  workitems checkin 42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseWorkItemID(args[0])
		if err != nil {
			return err
		}
		noWait, err := cmd.Flags().GetBool("no-wait")
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		ws, _, err := openWorkspace(cmd, workspace.OnPullRequestCompleted(func(id int) {
			fmt.Fprintf(out, "Pull request %d completed, updating repository\n", id)
		}))
		if err != nil {
			return err
		}
		defer ws.Close()

		pr, err := ws.CheckIn(cmd.Context(), id, func(msg string) {
			fmt.Fprintln(out, msg)
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Created pull request %d (%s): %s\n", pr.ID, pr.Status, pr.WebURL)

		p, ok := ws.Poller(pr.ID)
		if noWait || !ok {
			return nil
		}

		fmt.Fprintf(out, "Waiting for pull request %d to complete ...\n", pr.ID)
		select {
		case <-p.Done():
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}

		switch p.Outcome() {
		case poller.OutcomeCompleted:
			fmt.Fprintln(out, "Repository updated")
		case poller.OutcomeFailed:
			fmt.Fprintf(out, "Stopped waiting for pull request %d: status or fetch request failed, see the log\n", pr.ID)
		default:
			fmt.Fprintf(out, "Stopped waiting for pull request %d: %s\n", pr.ID, p.Outcome())
		}
		return nil
	},
}

func init() {
	checkinCmd.Flags().Bool("no-wait", false, "Return once the pull request is created")
}
