// Package gitops drives the local git CLI for project checkouts.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/inkton/nester-develop/pkg/reporting"
)

// DefaultRemote is the ssh alias URL resolved through .ssh_config
const DefaultRemote = "nest:repository.git"

// ErrGitTooOld is returned when the installed git lacks local ssh support
var ErrGitTooOld = errors.New("git is too old")

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// Git runs git commands
type Git struct {
	binary string
	logger *reporting.Logger
}

// New creates a git runner
func New(binary string, logger *reporting.Logger) *Git {
	if binary == "" {
		binary = "git"
	}
	if logger == nil {
		logger = reporting.NopLogger()
	}
	return &Git{binary: binary, logger: logger}
}

// Run executes git in dir and returns its trimmed stdout
func (g *Git) Run(ctx context.Context, dir string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Debug("Running git", "dir", dir, "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, msg)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Version returns the installed git version
func (g *Git) Version(ctx context.Context) (*semver.Version, error) {
	out, err := g.Run(ctx, "", "--version")
	if err != nil {
		return nil, fmt.Errorf("failed to check if git is installed: %w", err)
	}
	return ParseVersion(out)
}

// CheckVersion fails with ErrGitTooOld when git is older than min
func (g *Git) CheckVersion(ctx context.Context, min string) error {
	constraint, err := semver.NewConstraint(">= " + min)
	if err != nil {
		return fmt.Errorf("invalid minimum git version %q: %w", min, err)
	}

	version, err := g.Version(ctx)
	if err != nil {
		return err
	}

	if !constraint.Check(version) {
		return fmt.Errorf("%w: found %s, please install git %s or greater", ErrGitTooOld, version, min)
	}

	g.logger.Debug("Git version accepted", "version", version.String(), "min", min)
	return nil
}

// ParseVersion extracts the version from `git --version` output, e.g.
// "git version 2.39.2 (Apple Git-143)" or "git version 2.41.0.windows.1".
func ParseVersion(out string) (*semver.Version, error) {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("unrecognized git version output %q", strings.TrimSpace(out))
	}

	patch := m[3]
	if patch == "" {
		patch = "0"
	}

	return semver.NewVersion(fmt.Sprintf("%s.%s.%s", m[1], m[2], patch))
}

// ConfigureLocal points the checkout at the workspace ssh config and stops
// git from tracking file modes
func (g *Git) ConfigureLocal(ctx context.Context, dir, root string) error {
	// git runs core.sshCommand through the shell
	sshCommand := "ssh -F " + shellQuote(filepath.ToSlash(SSHConfigPath(root)))

	if err := g.SetConfig(ctx, dir, "core.sshCommand", sshCommand); err != nil {
		return err
	}
	if err := g.SetConfig(ctx, dir, "core.fileMode", "false"); err != nil {
		return err
	}

	g.logger.Debug("Git folder integrated", "dir", dir)
	return nil
}

// shellQuote single-quotes s for sh
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Init creates an empty repository in dir
func (g *Git) Init(ctx context.Context, dir string) error {
	_, err := g.Run(ctx, dir, "init")
	return err
}

// SetConfig writes a local config value
func (g *Git) SetConfig(ctx context.Context, dir, key, value string) error {
	_, err := g.Run(ctx, dir, "config", "--local", key, value)
	return err
}

// AddRemote registers a remote
func (g *Git) AddRemote(ctx context.Context, dir, name, url string) error {
	_, err := g.Run(ctx, dir, "remote", "add", name, url)
	return err
}

// Fetch fetches every remote
func (g *Git) Fetch(ctx context.Context, dir string) error {
	_, err := g.Run(ctx, dir, "fetch", "--all")
	return err
}

// CreateBranch checks out a new local branch
func (g *Git) CreateBranch(ctx context.Context, dir, branch string) error {
	_, err := g.Run(ctx, dir, "checkout", "-b", branch)
	return err
}

// TrackBranch checks out a local branch tracking remoteBranch, discarding
// local changes
func (g *Git) TrackBranch(ctx context.Context, dir, remoteBranch string) error {
	_, err := g.Run(ctx, dir, "checkout", "--track", "--force", remoteBranch)
	return err
}

// RemoteBranches lists remote branches of dir that start with prefix, e.g.
// "origin/api-"
func (g *Git) RemoteBranches(ctx context.Context, dir, prefix string) ([]string, error) {
	out, err := g.Run(ctx, dir, "branch", "--remotes", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}

	branches := make([]string, 0)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, prefix) {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// FolderBranchPrefix returns the remote branch prefix of a source folder
func FolderBranchPrefix(name string) string {
	return "origin/" + strings.ToLower(strings.TrimSpace(name)) + "-"
}
