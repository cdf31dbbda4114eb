// Package config provides centralized configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Supported tracker providers.
const (
	ProviderAzure  = "azure"
	ProviderGitHub = "github"
	ProviderJira   = "jira"
)

// Work item search fields.
const (
	SearchChanged = "changed"
	SearchCreated = "created"
)

// Config holds all configuration parameters for the application.
type Config struct {
	Tracker   TrackerConfig
	Azure     AzureConfig
	GitHub    GitHubConfig
	Jira      JiraConfig
	WorkItems WorkItemsConfig
}

// TrackerConfig selects the remote service backends.
type TrackerConfig struct {
	// Provider hosts repositories and pull requests ("azure" or "github").
	Provider string
	// Source supplies work items; empty means the same as Provider.
	Source string
}

// AzureConfig holds Azure DevOps specific configuration.
type AzureConfig struct {
	OrganizationURL string
	Token           Secret
	Project         string
}

// GitHubConfig holds GitHub specific configuration.
type GitHubConfig struct {
	Domain string
	Token  Secret
	// Repository is "owner/name" and scopes the issue queries.
	Repository string
}

// JiraConfig holds JIRA specific configuration.
type JiraConfig struct {
	URL      string
	Username string
	Token    Secret
	Project  string
}

// WorkItemsConfig holds the work item query and branch policy.
type WorkItemsConfig struct {
	// SearchLast is "changed" or "created" and picks the date column queries order by.
	SearchLast string
	// Count bounds the query window.
	Count int
	// DevelopmentBranch is the remote fallback when the current branch is unknown remotely.
	DevelopmentBranch string
}

// WorkItemSource returns the provider supplying work items.
func (c *Config) WorkItemSource() string {
	if c.Tracker.Source == "" {
		return c.Tracker.Provider
	}
	return c.Tracker.Source
}

// LoadConfig loads configuration from environment variables and, when
// present, a .workitems.yaml file found in one of searchPaths.
func LoadConfig(searchPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("tracker.provider", ProviderAzure)
	v.SetDefault("github.domain", "github.com")
	v.SetDefault("workitems.search_last", SearchChanged)
	v.SetDefault("workitems.count", 10)
	v.SetDefault("workitems.development_branch", "development")

	// Map specific environment variables
	v.BindEnv("tracker.provider", "WORKITEMS_PROVIDER")
	v.BindEnv("tracker.source", "WORKITEMS_SOURCE")
	v.BindEnv("azure.organization_url", "AZURE_DEVOPS_ORG_URL")
	v.BindEnv("azure.token", "AZURE_DEVOPS_TOKEN")
	v.BindEnv("azure.project", "AZURE_DEVOPS_PROJECT")
	v.BindEnv("github.domain", "GITHUB_DOMAIN")
	v.BindEnv("github.token", "GITHUB_TOKEN")
	v.BindEnv("github.repository", "GITHUB_REPOSITORY")
	v.BindEnv("jira.url", "JIRA_URL")
	v.BindEnv("jira.username", "JIRA_USERNAME")
	v.BindEnv("jira.token", "JIRA_TOKEN")
	v.BindEnv("jira.project", "JIRA_PROJECT")
	v.BindEnv("workitems.search_last", "WORKITEMS_SEARCH_LAST")
	v.BindEnv("workitems.count", "WORKITEMS_COUNT")
	v.BindEnv("workitems.development_branch", "WORKITEMS_DEVELOPMENT_BRANCH")

	if len(searchPaths) > 0 {
		v.SetConfigName(".workitems")
		v.SetConfigType("yaml")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	config := &Config{
		Tracker: TrackerConfig{
			Provider: strings.ToLower(v.GetString("tracker.provider")),
			Source:   strings.ToLower(v.GetString("tracker.source")),
		},
		Azure: AzureConfig{
			OrganizationURL: v.GetString("azure.organization_url"),
			Token:           Secret(v.GetString("azure.token")),
			Project:         v.GetString("azure.project"),
		},
		GitHub: GitHubConfig{
			Domain:     v.GetString("github.domain"),
			Token:      Secret(v.GetString("github.token")),
			Repository: v.GetString("github.repository"),
		},
		Jira: JiraConfig{
			URL:      v.GetString("jira.url"),
			Username: v.GetString("jira.username"),
			Token:    Secret(v.GetString("jira.token")),
			Project:  v.GetString("jira.project"),
		},
		WorkItems: WorkItemsConfig{
			SearchLast:        strings.ToLower(v.GetString("workitems.search_last")),
			Count:             v.GetInt("workitems.count"),
			DevelopmentBranch: v.GetString("workitems.development_branch"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate ensures that the selected providers have everything they need.
func (c *Config) Validate() error {
	switch c.Tracker.Provider {
	case ProviderAzure, ProviderGitHub:
	default:
		return fmt.Errorf("unsupported provider %q, expected %q or %q", c.Tracker.Provider, ProviderAzure, ProviderGitHub)
	}

	switch c.WorkItemSource() {
	case ProviderAzure, ProviderGitHub, ProviderJira:
	default:
		return fmt.Errorf("unsupported work item source %q", c.WorkItemSource())
	}

	if c.WorkItems.SearchLast != SearchChanged && c.WorkItems.SearchLast != SearchCreated {
		return fmt.Errorf("invalid search field %q, expected %q or %q", c.WorkItems.SearchLast, SearchChanged, SearchCreated)
	}
	if c.WorkItems.Count <= 0 {
		return fmt.Errorf("work item count must be positive, got %d", c.WorkItems.Count)
	}

	var missingVars []string
	for _, p := range uniq(c.Tracker.Provider, c.WorkItemSource()) {
		switch p {
		case ProviderAzure:
			missingVars = append(missingVars, ValidateAzureConfig(c)...)
		case ProviderGitHub:
			missingVars = append(missingVars, ValidateGitHubConfig(c)...)
		case ProviderJira:
			missingVars = append(missingVars, ValidateJiraConfig(c)...)
		}
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return nil
}

// ValidateAzureConfig lists missing Azure DevOps variables.
func ValidateAzureConfig(config *Config) []string {
	var missingVars []string
	if config.Azure.OrganizationURL == "" {
		missingVars = append(missingVars, "AZURE_DEVOPS_ORG_URL")
	}
	if !config.Azure.Token.IsSet() {
		missingVars = append(missingVars, "AZURE_DEVOPS_TOKEN")
	}
	if config.Azure.Project == "" {
		missingVars = append(missingVars, "AZURE_DEVOPS_PROJECT")
	}
	return missingVars
}

// ValidateGitHubConfig lists missing GitHub variables. The repository is only
// required when GitHub also supplies the work items.
func ValidateGitHubConfig(config *Config) []string {
	var missingVars []string
	if !config.GitHub.Token.IsSet() {
		missingVars = append(missingVars, "GITHUB_TOKEN")
	}
	if config.WorkItemSource() == ProviderGitHub && config.GitHub.Repository == "" {
		missingVars = append(missingVars, "GITHUB_REPOSITORY")
	}
	return missingVars
}

// ValidateJiraConfig lists missing JIRA variables.
func ValidateJiraConfig(config *Config) []string {
	var missingVars []string
	if config.Jira.URL == "" {
		missingVars = append(missingVars, "JIRA_URL")
	}
	if config.Jira.Username == "" {
		missingVars = append(missingVars, "JIRA_USERNAME")
	}
	if !config.Jira.Token.IsSet() {
		missingVars = append(missingVars, "JIRA_TOKEN")
	}
	return missingVars
}

func uniq(values ...string) []string {
	var out []string
	for _, v := range values {
		seen := false
		for _, o := range out {
			if o == v {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, v)
		}
	}
	return out
}
