package gitops

import (
	"context"
	"fmt"
	"os"
)

// Identity is the commit author configured in new folders
type Identity struct {
	Name  string
	Email string
}

// PrepareFolder creates dir as a repository wired to remote through the
// workspace ssh config and fetches it. An empty remote means DefaultRemote.
func (g *Git) PrepareFolder(ctx context.Context, dir, root, remote string, who Identity) error {
	if remote == "" {
		remote = DefaultRemote
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	if err := g.Init(ctx, dir); err != nil {
		return err
	}
	if err := g.SetConfig(ctx, dir, "user.name", who.Name); err != nil {
		return err
	}
	if err := g.SetConfig(ctx, dir, "user.email", who.Email); err != nil {
		return err
	}
	if err := g.ConfigureLocal(ctx, dir, root); err != nil {
		return err
	}
	if err := g.AddRemote(ctx, dir, "origin", remote); err != nil {
		return err
	}
	return g.Fetch(ctx, dir)
}
