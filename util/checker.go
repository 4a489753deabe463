package util

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v63/github"
	"golang.org/x/mod/semver"

	"github.com/dixieflatline76/TabSpice/config"
)

const (
	githubOwner = "dixieflatline76"
	githubRepo  = "TabSpice"
)

// CheckForUpdatesResult holds the outcome of the update check.
type CheckForUpdatesResult struct {
	UpdateAvailable bool   `json:"updateAvailable"`
	CurrentVersion  string `json:"currentVersion"`
	LatestVersion   string `json:"latestVersion"`
	ReleaseURL      string `json:"releaseUrl,omitempty"`
	ReleaseNotes    string `json:"releaseNotes,omitempty"`
}

// UpdateChecker polls GitHub releases of the daemon.
type UpdateChecker struct {
	client *github.Client
}

// NewUpdateChecker creates a checker; a nil httpClient uses http.DefaultClient.
func NewUpdateChecker(httpClient *http.Client) *UpdateChecker {
	return &UpdateChecker{client: github.NewClient(httpClient)}
}

// CheckForUpdates compares config.AppVersion with the latest stable release.
// Development builds without a semantic version always report an update.
func (u *UpdateChecker) CheckForUpdates(ctx context.Context) (*CheckForUpdatesResult, error) {
	release, _, err := u.client.Repositories.GetLatestRelease(ctx, githubOwner, githubRepo)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest GitHub release: %w", err)
	}

	currentAppVersion := withV(config.AppVersion)
	latestVersionTag := withV(release.GetTagName())

	result := &CheckForUpdatesResult{
		CurrentVersion: currentAppVersion,
		LatestVersion:  latestVersionTag,
		ReleaseURL:     release.GetHTMLURL(),
		ReleaseNotes:   release.GetBody(),
	}

	if semver.Compare(latestVersionTag, currentAppVersion) > 0 {
		result.UpdateAvailable = true
	}

	return result, nil
}

func withV(version string) string {
	if !strings.HasPrefix(version, "v") {
		return "v" + version
	}
	return version
}
