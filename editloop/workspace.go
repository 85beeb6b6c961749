package editloop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// manifestFiles are the project manifests recognized by workspace
// discovery, checked in order at each directory level.
var manifestFiles = []string{"go.mod", "Cargo.toml", "package.json", "pyproject.toml"}

// WorkspaceError is a workspace discovery failure.
type WorkspaceError struct {
	Reason string
}

func (e *WorkspaceError) Error() string {
	return "workspace: " + e.Reason
}

// Workspace is a discovered project root.
type Workspace struct {
	Root string
}

// Discover locates the project enclosing the given paths: it finds their
// common ancestor directory, then searches upward from it for the nearest
// project manifest. The empty path set is an input error.
func Discover(paths []string) (*Workspace, error) {
	if len(paths) == 0 {
		return nil, &WorkspaceError{Reason: "no paths provided"}
	}

	abs := make([]string, len(paths))
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("workspace: resolve %s: %w", p, err)
		}
		abs[i] = filepath.Clean(a)
	}

	ancestor, err := commonAncestor(abs)
	if err != nil {
		return nil, err
	}

	root, err := findManifest(ancestor)
	if err != nil {
		return nil, err
	}
	return &Workspace{Root: root}, nil
}

// RelativePath returns path relative to the workspace root.
func (w *Workspace) RelativePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("workspace: resolve %s: %w", path, err)
	}
	rel, err := filepath.Rel(w.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", &WorkspaceError{Reason: fmt.Sprintf("%s is outside the workspace", path)}
	}
	return rel, nil
}

func commonAncestor(paths []string) (string, error) {
	ancestor := paths[0]
	if fi, err := os.Stat(ancestor); err != nil || !fi.IsDir() {
		ancestor = filepath.Dir(ancestor)
	}
	for _, p := range paths[1:] {
		for !within(p, ancestor) {
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				return "", &WorkspaceError{Reason: "no common ancestor found"}
			}
			ancestor = parent
		}
	}
	return ancestor, nil
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func findManifest(start string) (string, error) {
	dir := start
	for {
		for _, manifest := range manifestFiles {
			if _, err := os.Stat(filepath.Join(dir, manifest)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", &WorkspaceError{Reason: "project manifest not found"}
		}
		dir = parent
	}
}
