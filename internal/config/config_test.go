package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var allVars = []string{
	"WORKITEMS_PROVIDER", "WORKITEMS_SOURCE",
	"AZURE_DEVOPS_ORG_URL", "AZURE_DEVOPS_TOKEN", "AZURE_DEVOPS_PROJECT",
	"GITHUB_DOMAIN", "GITHUB_TOKEN", "GITHUB_REPOSITORY",
	"JIRA_URL", "JIRA_USERNAME", "JIRA_TOKEN", "JIRA_PROJECT",
	"WORKITEMS_SEARCH_LAST", "WORKITEMS_COUNT", "WORKITEMS_DEVELOPMENT_BRANCH",
}

// clearEnv blanks every variable the loader reads so the host environment
// cannot leak into a test case.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allVars {
		t.Setenv(name, "")
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, c *Config)
	}{
		{
			name: "Azure with defaults",
			env: map[string]string{
				"AZURE_DEVOPS_ORG_URL": "https://dev.azure.com/org/",
				"AZURE_DEVOPS_TOKEN":   "pat-token",
				"AZURE_DEVOPS_PROJECT": "Project",
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, ProviderAzure, c.Tracker.Provider)
				assert.Equal(t, ProviderAzure, c.WorkItemSource())
				assert.Equal(t, "https://dev.azure.com/org/", c.Azure.OrganizationURL)
				assert.Equal(t, "pat-token", c.Azure.Token.Value())
				assert.Equal(t, SearchChanged, c.WorkItems.SearchLast)
				assert.Equal(t, 10, c.WorkItems.Count)
				assert.Equal(t, "development", c.WorkItems.DevelopmentBranch)
			},
		},
		{
			name: "Azure missing token",
			env: map[string]string{
				"AZURE_DEVOPS_ORG_URL": "https://dev.azure.com/org/",
				"AZURE_DEVOPS_PROJECT": "Project",
			},
			wantErr: "AZURE_DEVOPS_TOKEN",
		},
		{
			name: "GitHub repositories with Jira work items",
			env: map[string]string{
				"WORKITEMS_PROVIDER": "github",
				"WORKITEMS_SOURCE":   "jira",
				"GITHUB_TOKEN":       "gh-token",
				"JIRA_URL":           "https://example.atlassian.net",
				"JIRA_USERNAME":      "dev@example.com",
				"JIRA_TOKEN":         "jira-token",
				"JIRA_PROJECT":       "PROJ",
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, ProviderGitHub, c.Tracker.Provider)
				assert.Equal(t, ProviderJira, c.WorkItemSource())
				assert.Equal(t, "github.com", c.GitHub.Domain)
				assert.Equal(t, "PROJ", c.Jira.Project)
			},
		},
		{
			name: "GitHub work items need a repository",
			env: map[string]string{
				"WORKITEMS_PROVIDER": "github",
				"GITHUB_TOKEN":       "gh-token",
			},
			wantErr: "GITHUB_REPOSITORY",
		},
		{
			name: "Search field and count overrides",
			env: map[string]string{
				"WORKITEMS_PROVIDER":           "github",
				"GITHUB_TOKEN":                 "gh-token",
				"GITHUB_REPOSITORY":            "org/repo",
				"WORKITEMS_SEARCH_LAST":        "created",
				"WORKITEMS_COUNT":              "30",
				"WORKITEMS_DEVELOPMENT_BRANCH": "develop",
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, SearchCreated, c.WorkItems.SearchLast)
				assert.Equal(t, 30, c.WorkItems.Count)
				assert.Equal(t, "develop", c.WorkItems.DevelopmentBranch)
			},
		},
		{
			name: "Invalid search field",
			env: map[string]string{
				"WORKITEMS_PROVIDER":    "github",
				"GITHUB_TOKEN":          "gh-token",
				"GITHUB_REPOSITORY":     "org/repo",
				"WORKITEMS_SEARCH_LAST": "closed",
			},
			wantErr: "invalid search field",
		},
		{
			name:    "Jira cannot host pull requests",
			env:     map[string]string{"WORKITEMS_PROVIDER": "jira"},
			wantErr: "unsupported provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			config, err := LoadConfig()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, config)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, config)
			tt.check(t, config)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	content := `tracker:
  provider: azure
azure:
  organization_url: https://dev.azure.com/file-org/
  token: file-token
  project: FileProject
workitems:
  development_branch: main
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".workitems.yaml"), []byte(content), 0644))

	config, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://dev.azure.com/file-org/", config.Azure.OrganizationURL)
	assert.Equal(t, "FileProject", config.Azure.Project)
	assert.Equal(t, "main", config.WorkItems.DevelopmentBranch)

	// environment wins over the file
	t.Setenv("AZURE_DEVOPS_PROJECT", "EnvProject")
	config, err = LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "EnvProject", config.Azure.Project)
}

func TestLoadConfigMissingFileIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("AZURE_DEVOPS_ORG_URL", "https://dev.azure.com/org/")
	t.Setenv("AZURE_DEVOPS_TOKEN", "pat")
	t.Setenv("AZURE_DEVOPS_PROJECT", "Project")

	_, err := LoadConfig(t.TempDir())
	assert.NoError(t, err)
}

func TestSecretIsRedacted(t *testing.T) {
	s := Secret("super-secret-token")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret-token", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())

	out, err := yaml.Marshal(AzureConfig{Token: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "super-secret-token")
	assert.Contains(t, string(out), "[REDACTED]")
}
