package editloop

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/martinemde/loom/dialect"
)

// ContextProvider supplies read-only material injected into prompts.
type ContextProvider interface {
	// ID returns a stable identifier used to deduplicate across refreshes.
	ID() string

	// Human returns a display string describing the provider.
	Human() string

	// Items produces the provider's current context items. Fails with an
	// I/O-class error if the underlying material is unavailable.
	Items(ctx context.Context) ([]dialect.ContextItem, error)

	// Refresh re-reads or regenerates the provider's material. A failing
	// refresh must not prevent other providers from refreshing.
	Refresh(ctx context.Context) error

	// NeedsRefresh reports whether the material can go stale.
	NeedsRefresh() bool
}

// TextContext is a static text blob. It never goes stale.
type TextContext struct {
	Name string
	Body string
}

func (t *TextContext) ID() string         { return "text:" + t.Name }
func (t *TextContext) Human() string      { return t.Name }
func (t *TextContext) NeedsRefresh() bool { return false }

func (t *TextContext) Refresh(ctx context.Context) error { return nil }

func (t *TextContext) Items(ctx context.Context) ([]dialect.ContextItem, error) {
	return []dialect.ContextItem{{Type: "text", Source: t.Name, Body: t.Body}}, nil
}

// FileContext supplies the contents of files under a root matching a glob
// pattern. A plain path is treated as a single file.
type FileContext struct {
	Root    string
	Pattern string

	mu    sync.Mutex
	cache []dialect.ContextItem
}

// NewFileContext creates a FileContext for pattern relative to root.
func NewFileContext(root, pattern string) *FileContext {
	return &FileContext{Root: root, Pattern: pattern}
}

func (f *FileContext) ID() string         { return "file:" + f.Pattern }
func (f *FileContext) Human() string      { return f.Pattern }
func (f *FileContext) NeedsRefresh() bool { return true }

func (f *FileContext) Items(ctx context.Context) ([]dialect.ContextItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cache == nil {
		items, err := f.read()
		if err != nil {
			return nil, err
		}
		f.cache = items
	}
	out := make([]dialect.ContextItem, len(f.cache))
	copy(out, f.cache)
	return out, nil
}

func (f *FileContext) Refresh(ctx context.Context) error {
	items, err := f.read()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.cache = items
	f.mu.Unlock()
	return nil
}

func (f *FileContext) read() ([]dialect.ContextItem, error) {
	var paths []string
	if strings.ContainsAny(f.Pattern, "*?[{") {
		matches, err := doublestar.Glob(os.DirFS(f.Root), f.Pattern)
		if err != nil {
			return nil, fmt.Errorf("context glob %s: %w", f.Pattern, err)
		}
		sort.Strings(matches)
		paths = matches
	} else {
		paths = []string{f.Pattern}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("context pattern %s matched no files", f.Pattern)
	}

	var items []dialect.ContextItem
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(f.Root, rel))
		if err != nil {
			return nil, fmt.Errorf("read context file %s: %w", rel, err)
		}
		items = append(items, dialect.ContextItem{Type: "file", Source: rel, Body: string(data)})
	}
	return items, nil
}

// CommandContext supplies the captured output of a shell command run in
// the project root.
type CommandContext struct {
	Root    string
	Command string

	mu    sync.Mutex
	cache *dialect.ContextItem
}

// NewCommandContext creates a CommandContext for command run in root.
func NewCommandContext(root, command string) *CommandContext {
	return &CommandContext{Root: root, Command: command}
}

func (c *CommandContext) ID() string         { return "cmd:" + c.Command }
func (c *CommandContext) Human() string      { return c.Command }
func (c *CommandContext) NeedsRefresh() bool { return true }

func (c *CommandContext) Items(ctx context.Context) ([]dialect.ContextItem, error) {
	c.mu.Lock()
	cached := c.cache
	c.mu.Unlock()
	if cached == nil {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		cached = c.cache
		c.mu.Unlock()
	}
	return []dialect.ContextItem{*cached}, nil
}

func (c *CommandContext) Refresh(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
	cmd.Dir = c.Root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("context command %q: %w\n%s", c.Command, err, stderr.String())
	}
	item := dialect.ContextItem{Type: "command", Source: c.Command, Body: stdout.String()}
	c.mu.Lock()
	c.cache = &item
	c.mu.Unlock()
	return nil
}

// RefreshError aggregates per-provider refresh failures.
type RefreshError struct {
	Failures map[string]error
}

func (e *RefreshError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	b.WriteString("context refresh failed:")
	for _, id := range ids {
		fmt.Fprintf(&b, " %s: %v;", id, e.Failures[id])
	}
	return strings.TrimSuffix(b.String(), ";")
}

// RefreshContexts refreshes all stale providers concurrently. A failing
// provider does not abort the others; failures are collected and returned
// as a single *RefreshError.
func RefreshContexts(ctx context.Context, providers []ContextProvider) error {
	var mu sync.Mutex
	failures := make(map[string]error)

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		if !p.NeedsRefresh() {
			continue
		}
		g.Go(func() error {
			if err := p.Refresh(ctx); err != nil {
				mu.Lock()
				failures[p.ID()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		return &RefreshError{Failures: failures}
	}
	return nil
}

// CollectContexts gathers items from all providers in order, deduplicating
// by provider ID. The first occurrence of a duplicated provider wins.
func CollectContexts(ctx context.Context, providers []ContextProvider) ([]dialect.ContextItem, error) {
	seen := make(map[string]bool, len(providers))
	var items []dialect.ContextItem
	for _, p := range providers {
		if seen[p.ID()] {
			continue
		}
		seen[p.ID()] = true
		got, err := p.Items(ctx)
		if err != nil {
			return nil, fmt.Errorf("context provider %s: %w", p.Human(), err)
		}
		items = append(items, got...)
	}
	return items, nil
}
