package editloop

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// CheckResult records a failed check, with separate user-facing and
// model-facing messages. The model message is usually the full tool output.
type CheckResult struct {
	Name  string `json:"name"`
	User  string `json:"user"`
	Model string `json:"model"`
}

// Check runs a shell command against the project root and inspects its
// outcome. Relies on sh being available. Check commands always run in the
// project root directory.
type Check struct {
	// Name of the check for display and error reporting.
	Name string `yaml:"name" json:"name"`
	// Shell command to execute, run with sh -c.
	Command string `yaml:"command" json:"command"`
	// Glob patterns matched against touched files to determine relevance.
	Globs []string `yaml:"globs" json:"globs"`
	// Whether this check is off unless explicitly enabled.
	DefaultOff bool `yaml:"default_off" json:"default_off,omitempty"`
	// Whether any stderr output is a failure, regardless of exit code.
	FailOnStderr bool `yaml:"fail_on_stderr" json:"fail_on_stderr,omitempty"`
	// Whether the command may rewrite files. After a formatter runs, the
	// engine re-reads touched files back into the snapshot.
	Format bool `yaml:"format" json:"format,omitempty"`
}

// IsRelevant reports whether any of the given paths match the check's
// glob patterns.
func (c Check) IsRelevant(paths []string) bool {
	for _, p := range paths {
		clean := strings.TrimPrefix(p, "./")
		base := filepath.Base(clean)
		for _, pattern := range c.Globs {
			if ok, _ := doublestar.Match(pattern, clean); ok {
				return true
			}
			if ok, _ := doublestar.Match(pattern, base); ok {
				return true
			}
		}
	}
	return false
}

// Runnable reports whether the check can execute on this host.
func (c Check) Runnable() error {
	if _, err := exec.LookPath("sh"); err != nil {
		return fmt.Errorf("check %s requires sh on PATH: %w", c.Name, err)
	}
	return nil
}

// Run executes the check in root with a bounded timeout. A nil result
// means the check passed. The subprocess runs in its own process group so
// a timeout or cancellation kills the whole tree.
func (c Check) Run(ctx context.Context, root string, timeout time.Duration) *CheckResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
	cmd.Dir = root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Kill the whole process group on timeout or cancellation. The default
	// cancel only signals sh itself, and a surviving child holding the
	// output pipe would block Run until it exits on its own.
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

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return &CheckResult{
			Name:  c.Name,
			User:  fmt.Sprintf("check command timed out after %s: %s", timeout, c.Command),
			Model: fmt.Sprintf("check %s timed out: %s", c.Name, c.Command),
		}
	}

	failed := err != nil || (c.FailOnStderr && stderr.Len() > 0)
	if !failed {
		return nil
	}
	return &CheckResult{
		Name:  c.Name,
		User:  fmt.Sprintf("check command failed: %s", c.Command),
		Model: fmt.Sprintf("stdout:\n%s\n\nstderr:\n%s", stdout.String(), stderr.String()),
	}
}

// DefaultChecks is the built-in check catalog. Entries are filtered by
// configuration and by relevance to the touched paths before running.
func DefaultChecks() []Check {
	return []Check{
		{
			Name:    "go-build",
			Command: "go build ./...",
			Globs:   []string{"*.go"},
		},
		{
			Name:    "go-test",
			Command: "go test ./...",
			Globs:   []string{"*.go"},
		},
		{
			Name:         "go-vet",
			Command:      "go vet ./...",
			Globs:        []string{"*.go"},
			DefaultOff:   true,
			FailOnStderr: true,
		},
		{
			Name:         "gofmt",
			Command:      "gofmt -w .",
			Globs:        []string{"*.go"},
			FailOnStderr: true,
			Format:       true,
		},
		{
			Name:    "cargo-check",
			Command: "cargo check --tests",
			Globs:   []string{"*.rs"},
		},
		{
			Name:         "cargo-fmt",
			Command:      "cargo fmt --all",
			Globs:        []string{"*.rs"},
			FailOnStderr: true,
			Format:       true,
		},
		{
			Name:    "ruff-check",
			Command: "ruff check -q",
			Globs:   []string{"*.py"},
		},
		{
			Name:    "ruff-format",
			Command: "ruff format -q",
			Globs:   []string{"*.py"},
			Format:  true,
		},
	}
}
