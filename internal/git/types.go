package git

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the working tree state of a repository.
type Status struct {
	// Staged files (index differs from HEAD)
	Staged []string

	// Unstaged files (working tree differs from index)
	Unstaged []string

	// Untracked files
	Untracked []string

	// HasChanges is true if any changes exist
	HasChanges bool
}

// CommitInfo describes the most recent commit touching a path.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandError carries the git error text for a failed subcommand.
// The engine propagates these without retries.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("git %s: %v (output: %s)", strings.Join(e.Args, " "), e.Err, e.Output)
	}
	return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// AsCommandError unwraps err into a *CommandError if one is in the chain.
func AsCommandError(err error, target **CommandError) bool {
	return errors.As(err, target)
}
