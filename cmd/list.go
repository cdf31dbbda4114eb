package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danielolaszy/workitems/internal/logging"
	"github.com/danielolaszy/workitems/pkg/models"
)

// listCmd prints the work items of the configured query with the pending
// commits that mention them.
var listCmd = &cobra.Command{
	Use:   "list [filter]",
	Short: "List work items and their pending commits",
	Long: `List the work items changed or created recently, together with the local
commits that reference them and are not on the remote yet.

The filter is either a work item id or text searched in titles. On a branch
named work_item/<id> only that work item is listed.

Example:
  workitems list
  workitems list 42
  workitems list "login" -o yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}
		if output != "text" && output != "yaml" {
			return fmt.Errorf("unsupported output format %q, expected text or yaml", output)
		}

		filter := ""
		if len(args) > 0 {
			filter = args[0]
		}

		ws, _, err := openWorkspace(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		result, err := ws.Refresh(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to refresh work items: %w", err)
		}

		logging.Info("listed work items",
			"branch", result.Branch,
			"compared_branch", result.ComparedBranch,
			"work_items", len(result.WorkItems),
			"pending_commits", len(result.Pending))

		if output == "yaml" {
			return writeYAML(cmd.OutOrStdout(), ws.Entries())
		}
		writeText(cmd.OutOrStdout(), ws.Entries())
		return nil
	},
}

func init() {
	listCmd.Flags().StringP("output", "o", "text", "Output format (text or yaml)")
}

// writeText prints one line per work item and an indented line per commit.
func writeText(w io.Writer, entries []models.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No work items found")
		return
	}
	for _, e := range entries {
		fmt.Fprintln(w, e.Label())
		for _, child := range e.Children() {
			fmt.Fprintf(w, "    %s\n", child.Label())
		}
	}
}

type commitListing struct {
	Hash       string    `yaml:"hash"`
	Message    string    `yaml:"message"`
	AuthorTime time.Time `yaml:"author_time"`
}

type workItemListing struct {
	ID      int             `yaml:"id"`
	Title   string          `yaml:"title"`
	URL     string          `yaml:"url,omitempty"`
	Commits []commitListing `yaml:"commits"`
}

func listing(entries []models.Entry) []workItemListing {
	out := make([]workItemListing, 0, len(entries))
	for _, e := range entries {
		if e.Kind != models.EntryWorkItem {
			continue
		}
		item := workItemListing{
			ID:      e.WorkItem.ID,
			Title:   e.WorkItem.Title,
			URL:     e.WorkItem.URL,
			Commits: make([]commitListing, 0, len(e.Commits)),
		}
		for _, c := range e.Commits {
			item.Commits = append(item.Commits, commitListing{
				Hash:       c.Hash,
				Message:    strings.TrimSpace(c.Message),
				AuthorTime: c.AuthorTime,
			})
		}
		out = append(out, item)
	}
	return out
}

func writeYAML(w io.Writer, entries []models.Entry) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"work_items": listing(entries)}); err != nil {
		return fmt.Errorf("failed to encode work items: %w", err)
	}
	return enc.Close()
}
