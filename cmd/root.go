// Package cmd provides the command-line interface for the workitems CLI tool.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/workitems/internal/config"
	"github.com/danielolaszy/workitems/internal/logging"
	"github.com/danielolaszy/workitems/internal/vcs"
	"github.com/danielolaszy/workitems/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "workitems",
	Short: "Workitems checks in local commits per work item through pull requests",
	Long: `Workitems correlates the commits of your current branch with work items
of Azure DevOps, GitHub or JIRA by the "#<id>" references in their messages.

Commits that are not on the remote yet can be checked in per work item: they
are cherry-picked onto a temporary branch, pushed, and proposed as a pull
request against the current branch with auto-complete enabled.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the context of the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Add persistent flags that will be available to all commands
	rootCmd.PersistentFlags().String("repo", ".", "Path inside the git working tree")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().Bool("log-file", false, "Write logs to ~/.workitems/logs instead of stderr")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(mentionCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(watchCmd)
}

// setupLogging applies the logging flags. Without them the LOG_LEVEL setup
// done at start-up stays in place.
func setupLogging(cmd *cobra.Command) error {
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return err
	}
	toFile, err := cmd.Flags().GetBool("log-file")
	if err != nil {
		return err
	}
	if level == "" && !toFile {
		return nil
	}
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	if !toFile {
		logging.SetupLogger(os.Stderr, logging.LogLevel(level))
		return nil
	}
	f, err := logging.OpenLogFile("workitems")
	if err != nil {
		return err
	}
	logging.SetupLogger(f, logging.LogLevel(level))
	return nil
}

// openWorkspace opens the repository selected by --repo, loads the
// configuration found there or in the home directory, and connects to the
// configured services.
func openWorkspace(cmd *cobra.Command, opts ...workspace.Option) (*workspace.Workspace, *config.Config, error) {
	path, err := cmd.Flags().GetString("repo")
	if err != nil {
		return nil, nil, err
	}

	repo, err := vcs.Open(path)
	if err != nil {
		return nil, nil, err
	}

	searchPaths := []string{repo.Root()}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, home)
	}
	cfg, err := config.LoadConfig(searchPaths...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := newService(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}

	logging.Debug("workspace opened",
		"root", repo.Root(),
		"provider", cfg.Tracker.Provider,
		"work_item_source", cfg.WorkItemSource())
	return workspace.New(cfg.WorkItems, repo, svc, opts...), cfg, nil
}

func parseWorkItemID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid work item id %q", arg)
	}
	return id, nil
}
