package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// updateRepositoryEnv overrides the release repository at runtime.
const updateRepositoryEnv = "KIMI_AUTH_UPDATE_REPOSITORY"

// updateRepository is the GitHub owner/repo that publishes releases. It is
// set at build time:
//
//	-ldflags "-X kimiauth/cmd.updateRepository=owner/repo"
var updateRepository string

var errNoUpdateRepository = errors.New("no release repository configured, pass --repository or set " + updateRepositoryEnv)

func newSelfUpdateCmd() *cobra.Command {
	var (
		repository string
		checkOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "self-update",
		Short: "Update kimi-auth to the latest release",
		Long: `Checks the configured GitHub repository for a newer kimi-auth release and
replaces the running binary with it. Release assets are verified against
checksums.txt.

The repository comes from --repository, then ` + updateRepositoryEnv + `,
then the value compiled into the binary.

Examples:
  kimi-auth self-update --check
  kimi-auth self-update --repository owner/kimi-auth`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfUpdate(cmd, repository, checkOnly)
		},
	}

	cmd.Flags().StringVar(&repository, "repository", "", "GitHub owner/repo that publishes releases")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether a newer release exists")
	return cmd
}

// resolveRepository picks the release repository by precedence and checks
// that it is an owner/repo slug.
func resolveRepository(flagValue string) (string, error) {
	slug := flagValue
	if slug == "" {
		slug = os.Getenv(updateRepositoryEnv)
	}
	if slug == "" {
		slug = updateRepository
	}
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return "", errNoUpdateRepository
	}

	owner, repo, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", fmt.Errorf("invalid release repository %q, expected owner/repo", slug)
	}
	return slug, nil
}

func runSelfUpdate(cmd *cobra.Command, repository string, checkOnly bool) error {
	currentVersion := GetVersion()
	if currentVersion == "" || currentVersion == "dev" {
		return fmt.Errorf("cannot self-update a development version")
	}

	slug, err := resolveRepository(repository)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Validator: &selfupdate.ChecksumValidator{UniqueFilename: "checksums.txt"},
	})
	if err != nil {
		return fmt.Errorf("failed to create updater: %w", err)
	}

	printf(cmd, "Checking %s for releases newer than %s...\n", slug, currentVersion)
	latest, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug(slug))
	if err != nil {
		return fmt.Errorf("failed to detect latest release: %w", err)
	}
	if !found {
		return fmt.Errorf("no release found in %s for this platform", slug)
	}

	if !latest.GreaterThan(currentVersion) {
		printf(cmd, "%s\n", text.FgGreen.Sprint("Already up to date"))
		return nil
	}

	printf(cmd, "Newer release available: %s (published %s)\n", latest.Version(), latest.PublishedAt.Format("2006-01-02"))
	if checkOnly {
		return nil
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}
	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	printf(cmd, "%s %s\n", text.FgGreen.Sprint("Updated to"), latest.Version())
	return nil
}
