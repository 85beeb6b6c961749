// Package state tracks the authoritative in-memory view of workspace file
// contents, and applies patches to it atomically.
//
// A Snapshot maps absolute paths under a project root to file contents. It
// is never partially updated: Apply either produces a complete new Snapshot
// or returns an error and leaves the receiver untouched. Rollback is
// therefore a non-operation for the caller; it simply keeps the old value.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Snapshot is a versioned, immutable-by-convention view of tracked file
// contents. All keys are absolute, normalized paths under the root.
type Snapshot struct {
	root    string
	files   map[string]string
	version uint64
}

// NewSnapshot creates an empty Snapshot for the given project root. The root
// must be an absolute path.
func NewSnapshot(root string) (*Snapshot, error) {
	if !filepath.IsAbs(root) {
		return nil, &PathError{Path: root, Reason: "project root must be absolute"}
	}
	return &Snapshot{
		root:  filepath.Clean(root),
		files: make(map[string]string),
	}, nil
}

// Root returns the project root.
func (s *Snapshot) Root() string { return s.root }

// Version returns the snapshot version, incremented on every successful apply.
func (s *Snapshot) Version() uint64 { return s.version }

// Normalize resolves a path relative to the root, cleans it, and verifies it
// stays inside the project root.
func (s *Snapshot) Normalize(path string) (string, error) {
	if path == "" {
		return "", &PathError{Path: path, Reason: "empty path"}
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, abs)
	}
	abs = filepath.Clean(abs)
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", &PathError{Path: path, Reason: "escapes project root"}
	}
	if abs == s.root {
		return "", &PathError{Path: path, Reason: "path is the project root"}
	}
	return abs, nil
}

// Get returns the tracked content for a path.
func (s *Snapshot) Get(path string) (string, bool) {
	abs, err := s.Normalize(path)
	if err != nil {
		return "", false
	}
	content, ok := s.files[abs]
	return content, ok
}

// Paths returns all tracked paths in sorted order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of tracked files.
func (s *Snapshot) Len() int { return len(s.files) }

// Track reads a file from disk into the snapshot. Used when seeding a
// session's editable set; after that, mutation happens only through Apply.
func (s *Snapshot) Track(path string) error {
	abs, err := s.Normalize(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return &NotFoundError{Path: abs}
		}
		return fmt.Errorf("track %s: %w", abs, err)
	}
	s.files[abs] = string(data)
	return nil
}

// Seed sets a file's content directly, bypassing disk. Intended for session
// restore and tests.
func (s *Snapshot) Seed(path, content string) error {
	abs, err := s.Normalize(path)
	if err != nil {
		return err
	}
	s.files[abs] = content
	return nil
}

// clone returns a deep copy with the version advanced.
func (s *Snapshot) clone() *Snapshot {
	files := make(map[string]string, len(s.files))
	for k, v := range s.files {
		files[k] = v
	}
	return &Snapshot{root: s.root, files: files, version: s.version + 1}
}

// Apply applies a patch and returns a new Snapshot. Application is atomic:
// every operation path is validated against the root before any mutation,
// and any operation failure voids the whole patch. Multiple writes to the
// same path apply in order; the last write wins.
func (s *Snapshot) Apply(patch *Patch) (*Snapshot, error) {
	if patch == nil || len(patch.Ops) == 0 {
		return nil, &ApplyError{User: "empty patch", Model: "The patch contained no operations."}
	}

	// Validate all paths up front so no operation runs against an
	// escaping path.
	abs := make([]string, len(patch.Ops))
	for i, op := range patch.Ops {
		p, err := s.Normalize(op.Path())
		if err != nil {
			return nil, &ApplyError{
				Path:  op.Path(),
				User:  fmt.Sprintf("invalid path %q", op.Path()),
				Model: fmt.Sprintf("The path %q is not a valid path inside the project root. All paths must resolve to files under the project root.", op.Path()),
			}
		}
		abs[i] = p
	}

	next := s.clone()
	for i, op := range patch.Ops {
		switch op.Kind {
		case OpWrite:
			next.files[abs[i]] = op.Write.Content
		case OpReplace:
			content, ok := next.files[abs[i]]
			if !ok {
				return nil, &ApplyError{
					Path:  abs[i],
					User:  fmt.Sprintf("replace in untracked file %q", op.Replace.Path),
					Model: fmt.Sprintf("The file %q is not part of the editable set, so text in it cannot be replaced.", op.Replace.Path),
				}
			}
			if !strings.Contains(content, op.Replace.Old) {
				return nil, &ApplyError{
					Path:  abs[i],
					User:  fmt.Sprintf("replace target not found in %q", op.Replace.Path),
					Model: fmt.Sprintf("The old text was not found in %q. The replacement old text must match the file contents exactly.", op.Replace.Path),
				}
			}
			next.files[abs[i]] = strings.ReplaceAll(content, op.Replace.Old, op.Replace.New)
		case OpTouch:
			if _, ok := next.files[abs[i]]; !ok {
				next.files[abs[i]] = ""
			}
		default:
			return nil, &ApplyError{
				Path:  abs[i],
				User:  fmt.Sprintf("unknown operation kind %q", op.Kind),
				Model: fmt.Sprintf("The operation kind %q is not supported.", op.Kind),
			}
		}
	}
	return next, nil
}

// Flush materializes all tracked files to disk, creating parent directories
// as needed. Validators run against the filesystem, not the in-memory view,
// so the engine flushes before invoking them.
func (s *Snapshot) Flush() error {
	for path, content := range s.files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("flush %s: %w", path, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("flush %s: %w", path, err)
		}
	}
	return nil
}

// Reload re-reads the given tracked paths from disk, replacing the in-memory
// contents. Used after a formatter rewrites files in the workspace.
func (s *Snapshot) Reload(paths []string) error {
	for _, path := range paths {
		abs, err := s.Normalize(path)
		if err != nil {
			return err
		}
		if _, ok := s.files[abs]; !ok {
			continue
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("reload %s: %w", abs, err)
		}
		s.files[abs] = string(data)
	}
	return nil
}

type snapshotJSON struct {
	Root    string            `json:"root"`
	Files   map[string]string `json:"files"`
	Version uint64            `json:"version"`
}

// MarshalJSON implements json.Marshaler.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{Root: s.root, Files: s.files, Version: s.version})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !filepath.IsAbs(raw.Root) {
		return &PathError{Path: raw.Root, Reason: "project root must be absolute"}
	}
	s.root = filepath.Clean(raw.Root)
	s.version = raw.Version
	s.files = raw.Files
	if s.files == nil {
		s.files = make(map[string]string)
	}
	return nil
}
