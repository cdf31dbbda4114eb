package cmd

import (
	"context"
	"fmt"

	"github.com/danielolaszy/workitems/internal/config"
	"github.com/danielolaszy/workitems/internal/tracker"
	"github.com/danielolaszy/workitems/internal/tracker/azure"
	"github.com/danielolaszy/workitems/internal/tracker/github"
	"github.com/danielolaszy/workitems/internal/tracker/jira"
)

// newService connects the repository host and the work item source.
func newService(ctx context.Context, cfg *config.Config) (tracker.Service, error) {
	var (
		repos        tracker.Repositories
		azureClient  *azure.Client
		githubClient *github.Client
		err          error
	)

	switch cfg.Tracker.Provider {
	case config.ProviderAzure:
		azureClient, err = azure.NewClient(ctx, cfg.Azure)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize azure devops client: %w", err)
		}
		repos = azureClient
	case config.ProviderGitHub:
		var opts []github.Option
		if cfg.WorkItemSource() == config.ProviderGitHub {
			opts = append(opts, github.WithIssueLinks())
		}
		githubClient, err = github.NewClient(ctx, cfg.GitHub, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize github client: %w", err)
		}
		repos = githubClient
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Tracker.Provider)
	}

	var items tracker.WorkItems
	switch cfg.WorkItemSource() {
	case config.ProviderAzure:
		if azureClient == nil {
			if azureClient, err = azure.NewClient(ctx, cfg.Azure); err != nil {
				return nil, fmt.Errorf("failed to initialize azure devops client: %w", err)
			}
		}
		items = azureClient
	case config.ProviderGitHub:
		if githubClient == nil {
			if githubClient, err = github.NewClient(ctx, cfg.GitHub); err != nil {
				return nil, fmt.Errorf("failed to initialize github client: %w", err)
			}
		}
		items = githubClient
	case config.ProviderJira:
		jiraClient, err := jira.NewClient(cfg.Jira)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize jira client: %w", err)
		}
		items = jiraClient
	default:
		return nil, fmt.Errorf("unsupported work item source %q", cfg.WorkItemSource())
	}

	return tracker.Combine(items, repos), nil
}
