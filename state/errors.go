package state

import "fmt"

// PathError reports a path that is invalid for the snapshot root, for example
// one that escapes the project root after normalization.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path error: %s: %s", e.Path, e.Reason)
}

// ApplyError reports a patch that could not be applied. The snapshot is left
// unchanged. Model carries a diagnostic suitable for embedding in a
// corrective prompt.
type ApplyError struct {
	Path  string
	User  string
	Model string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("error applying patch: %s", e.User)
}

// Diagnostic returns the model-facing description of the failure.
func (e *ApplyError) Diagnostic() string {
	return e.Model
}

// NotFoundError reports a file that the snapshot does not track.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}
