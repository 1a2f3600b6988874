// Package workspace locates the Nest workspace root from a working directory.
package workspace

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/settings"
	"github.com/inkton/nester-develop/pkg/topology"
)

// ErrNoWorkspace is returned when dir is neither a root nor a project checkout
var ErrNoWorkspace = errors.New("no nest devkit found, open a folder with a valid devkit first")

const (
	// SourceDir holds project checkouts under the root
	SourceDir = "source"

	// SharedDir is the shared source checkout under SourceDir
	SharedDir = "shared"
)

// Workspace describes a resolved workspace
type Workspace struct {
	// Root holds the topology document and settings cache
	Root string

	// Document is the topology document path
	Document string

	// Dir is the directory the workspace was resolved from
	Dir string

	// Project is the project marker when Dir is a provisioned checkout
	Project *topology.ServiceDescriptor
}

// Locate resolves the workspace for dir. The root is dir itself when it holds
// a topology document, dir/../.. when that does, or the folder root recorded
// in dir's project marker.
func Locate(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	ws := &Workspace{Dir: abs}

	if settings.IsProject(abs) {
		project, err := settings.LoadProject(abs)
		if err != nil {
			return nil, err
		}
		ws.Project = project
	}

	candidates := []string{abs, filepath.Clean(filepath.Join(abs, "..", ".."))}
	if ws.Project != nil && ws.Project.FolderRoot() != "" {
		candidates = append(candidates, ws.Project.FolderRoot())
	}

	for _, candidate := range candidates {
		if doc, err := topology.FindDocument(candidate); err == nil {
			ws.Root = candidate
			ws.Document = doc
			return ws, nil
		}
	}

	if ws.Project != nil && ws.Project.FolderRoot() != "" {
		// Root recorded by the marker even though the document moved away
		ws.Root = ws.Project.FolderRoot()
		return ws, nil
	}

	return nil, fmt.Errorf("%w (searched from %s)", ErrNoWorkspace, abs)
}

// IsRoot reports whether the workspace was resolved from its root directory
func (w *Workspace) IsRoot() bool {
	return w.Dir == w.Root
}

// InProject reports whether the workspace was resolved from a project checkout
func (w *Workspace) InProject() bool {
	return w.Project != nil
}

// SourcePath returns the source directory under the root
func (w *Workspace) SourcePath() string {
	return filepath.Join(w.Root, SourceDir)
}

// SharedPath returns the shared checkout directory
func (w *Workspace) SharedPath() string {
	return filepath.Join(w.Root, SourceDir, SharedDir)
}

// ProjectPath returns the checkout directory of a project service
func (w *Workspace) ProjectPath(svc *topology.ServiceDescriptor) string {
	return ProjectPath(w.Root, svc)
}

// ProjectPath returns <root>/source/<NEST_TAG_CAP>
func ProjectPath(root string, svc *topology.ServiceDescriptor) string {
	return filepath.Join(root, SourceDir, svc.TagCap())
}

// SettingsStore returns the settings store of the workspace
func (w *Workspace) SettingsStore(logger *reporting.Logger) *settings.Store {
	return settings.NewStore(w.Root, logger)
}
