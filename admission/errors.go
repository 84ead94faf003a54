package admission

import (
	"fmt"
	"strings"
)

// QueryError means the queue status could not be determined. It is never
// treated as an empty queue.
type QueryError struct {
	User string
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("queue query for %q: %v", e.User, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// SubmitError means the submit command failed. Submissions are not retried.
type SubmitError struct {
	Path   string
	Output string
	Err    error
}

func (e *SubmitError) Error() string {
	msg := fmt.Sprintf("submit %s: %v", e.Path, e.Err)
	if out := strings.TrimSpace(e.Output); len(out) > 0 {
		msg += " (" + out + ")"
	}
	return msg
}

func (e *SubmitError) Unwrap() error { return e.Err }

// ArtifactMissingError means the batch file was absent at submission time.
type ArtifactMissingError struct {
	Path string
	Err  error
}

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("batch file %s missing: %v", e.Path, e.Err)
}

func (e *ArtifactMissingError) Unwrap() error { return e.Err }
