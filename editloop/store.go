package editloop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PathToFilename flattens a project root into a store filename by
// replacing path separators and stripping characters that are unsafe in
// filenames.
func PathToFilename(root string) string {
	s := strings.NewReplacer("/", "_", "\\", "_").Replace(root)
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '<', '>', '"', '|', '?', '*':
			return -1
		}
		return r
	}, s)
}

// SessionStore persists sessions as JSON files under a base directory,
// one file per project root.
type SessionStore struct {
	baseDir string
}

// OpenStore opens (creating if needed) a session store at baseDir.
func OpenStore(baseDir string) (*SessionStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("open session store %s: %w", baseDir, err)
	}
	return &SessionStore{baseDir: baseDir}, nil
}

// Save persists the session under the name derived from its project root.
func (s *SessionStore) Save(sess *Session) error {
	return s.SaveAs(PathToFilename(sess.Root), sess)
}

// SaveAs persists the session under an explicit name.
func (s *SessionStore) SaveAs(name string, sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize session: %w", err)
	}
	path := filepath.Join(s.baseDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", path, err)
	}
	return nil
}

// Load reads the session stored under name.
func (s *SessionStore) Load(name string) (*Session, error) {
	path := filepath.Join(s.baseDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no such session: %s", name)
		}
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	return &sess, nil
}

// LoadCurrent reads the session for the given project root.
func (s *SessionStore) LoadCurrent(root string) (*Session, error) {
	return s.Load(PathToFilename(root))
}

// List returns the names of all stored sessions, sorted.
func (s *SessionStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
