package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/workitems/internal/comment"
)

// mentionCmd adds a work item reference to a commit message.
var mentionCmd = &cobra.Command{
	Use:   "mention <id>",
	Short: "Reference a work item in a commit message",
	Long: `Reference a work item in a commit message.

A reference to another work item is replaced, a reference to the same one is
left alone, and a message without a reference gets " Fix #<id>" appended.

With --file the message file is rewritten in place, which makes the command
usable from a prepare-commit-msg hook.

Example:
  workitems mention 42 -m "fix login"
  workitems mention 42 -f .git/COMMIT_EDITMSG`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseWorkItemID(args[0])
		if err != nil {
			return err
		}
		message, err := cmd.Flags().GetString("message")
		if err != nil {
			return err
		}
		file, err := cmd.Flags().GetString("file")
		if err != nil {
			return err
		}

		if file != "" {
			return mentionInFile(file, id)
		}
		fmt.Fprintln(cmd.OutOrStdout(), comment.Mention(message, id))
		return nil
	},
}

func init() {
	mentionCmd.Flags().StringP("message", "m", "", "Commit message to annotate")
	mentionCmd.Flags().StringP("file", "f", "", "Commit message file to annotate in place")
	mentionCmd.MarkFlagsMutuallyExclusive("message", "file")
}

// mentionInFile annotates the first line of a message file.
func mentionInFile(path string, id int) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read message file: %w", err)
	}

	subject, rest := splitSubject(string(content))
	annotated := comment.Mention(subject, id) + rest

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat message file: %w", err)
	}
	if err := os.WriteFile(path, []byte(annotated), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write message file: %w", err)
	}
	return nil
}

func splitSubject(message string) (subject, rest string) {
	for i, r := range message {
		if r == '\n' {
			return message[:i], message[i:]
		}
	}
	return message, ""
}
