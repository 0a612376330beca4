// Package git wraps the git CLI for the state engine. All mutations to
// tracked documents flow through here so the atomic manager can checkpoint
// and roll back the working tree.
package git

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Repo executes git operations against a single working tree.
type Repo struct {
	// gitPath is the path to the git executable
	gitPath string

	// workDir is the working tree all commands run in (git -C workDir ...)
	workDir string
}

// New creates a Repo bound to workDir.
// It verifies that git is available on the system.
func New(ctx context.Context, workDir string) (*Repo, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &Repo{gitPath: gitPath, workDir: workDir}, nil
}

// WorkDir returns the working tree this Repo operates on.
func (r *Repo) WorkDir() string {
	return r.workDir
}

// run executes a git subcommand and returns its combined output.
// Failures carry the full git error text per the VersionControl contract.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", r.workDir}, args...)
	cmd := exec.CommandContext(ctx, r.gitPath, full...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", &CommandError{Args: args, Output: strings.TrimSpace(string(output)), Err: err}
	}
	return strings.TrimSpace(string(output)), nil
}

// IsRepo checks if the working tree is inside a git repository.
func (r *Repo) IsRepo(ctx context.Context) bool {
	_, err := r.run(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// IsClean reports whether the working tree has no staged, unstaged, or
// untracked changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	status, err := r.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check working tree in %s: %w", r.workDir, err)
	}
	return !status.HasChanges, nil
}

// Status returns the staged, unstaged, and untracked files in the tree.
func (r *Repo) Status(ctx context.Context) (*Status, error) {
	output, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status failed in %s: %w", r.workDir, err)
	}

	status := &Status{
		Staged:    []string{},
		Unstaged:  []string{},
		Untracked: []string{},
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 3 {
			continue
		}

		// Porcelain format: XY path, X=index state, Y=working tree state
		index := line[0]
		worktree := line[1]
		filePath := line[3:]

		if index == '?' && worktree == '?' {
			status.Untracked = append(status.Untracked, filePath)
		} else {
			if index != ' ' {
				status.Staged = append(status.Staged, filePath)
			}
			if worktree != ' ' {
				status.Unstaged = append(status.Unstaged, filePath)
			}
		}
		status.HasChanges = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse git status: %w", err)
	}

	return status, nil
}

// Head returns the current HEAD revision.
func (r *Repo) Head(ctx context.Context) (string, error) {
	sha, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD in %s: %w", r.workDir, err)
	}
	return sha, nil
}

// AddAll stages all changes (git add -A).
func (r *Repo) AddAll(ctx context.Context) error {
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("git add failed in %s: %w", r.workDir, err)
	}
	return nil
}

// Commit creates a commit and returns its hash.
// allowEmpty permits commits with no staged changes, used for status-only
// transitions and migration checkpoints.
func (r *Repo) Commit(ctx context.Context, message string, allowEmpty bool) (string, error) {
	if message == "" {
		return "", fmt.Errorf("commit message is required")
	}

	args := []string{"commit", "-m", message}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	if _, err := r.run(ctx, args...); err != nil {
		return "", fmt.Errorf("git commit failed in %s: %w", r.workDir, err)
	}

	return r.Head(ctx)
}

// ResetHard resets the working tree and index to the given revision.
func (r *Repo) ResetHard(ctx context.Context, revision string) error {
	if _, err := r.run(ctx, "reset", "--hard", revision); err != nil {
		return fmt.Errorf("git reset --hard %s failed in %s: %w", revision, r.workDir, err)
	}
	// Untracked files survive a hard reset; remove anything the reset
	// revision does not know about so the checkpoint is fully restored.
	if _, err := r.run(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("git clean failed in %s: %w", r.workDir, err)
	}
	return nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	name, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch in %s: %w", r.workDir, err)
	}
	return name, nil
}

// BranchExists checks whether a local branch exists.
func (r *Repo) BranchExists(ctx context.Context, name string) bool {
	_, err := r.run(ctx, "rev-parse", "--verify", "refs/heads/"+name)
	return err == nil
}

// CreateBranch creates a branch, optionally checking it out.
func (r *Repo) CreateBranch(ctx context.Context, name string, checkout bool) error {
	if checkout {
		if _, err := r.run(ctx, "checkout", "-b", name); err != nil {
			return fmt.Errorf("git checkout -b %s failed in %s: %w", name, r.workDir, err)
		}
		return nil
	}
	if _, err := r.run(ctx, "branch", name); err != nil {
		return fmt.Errorf("git branch %s failed in %s: %w", name, r.workDir, err)
	}
	return nil
}

// DeleteBranch deletes a local branch.
func (r *Repo) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := r.run(ctx, "branch", flag, name); err != nil {
		return fmt.Errorf("git branch %s %s failed in %s: %w", flag, name, r.workDir, err)
	}
	return nil
}

// Checkout switches to the given branch or revision.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	if _, err := r.run(ctx, "checkout", ref); err != nil {
		return fmt.Errorf("git checkout %s failed in %s: %w", ref, r.workDir, err)
	}
	return nil
}

// Merge merges branch into the current branch. noFastForward forces a merge
// commit (--no-ff); message overrides the default merge message when set.
func (r *Repo) Merge(ctx context.Context, branch string, noFastForward bool, message string) error {
	args := []string{"merge"}
	if noFastForward {
		args = append(args, "--no-ff")
	}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, branch)
	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("git merge %s failed in %s: %w", branch, r.workDir, err)
	}
	return nil
}

// LastCommitForPath returns the most recent commit touching path, or nil
// when the path has no history.
func (r *Repo) LastCommitForPath(ctx context.Context, path string) (*CommitInfo, error) {
	// %H|%an|%at|%s keeps the subject last so pipes in the message
	// cannot shift earlier fields.
	output, err := r.run(ctx, "log", "-1", "--format=%H|%an|%at|%s", "--", path)
	if err != nil {
		return nil, fmt.Errorf("git log failed for %s in %s: %w", path, r.workDir, err)
	}
	if output == "" {
		return nil, nil
	}

	parts := strings.SplitN(output, "|", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("unexpected git log output for %s: %q", path, output)
	}

	var ts int64
	if _, err := fmt.Sscanf(parts[2], "%d", &ts); err != nil {
		return nil, fmt.Errorf("failed to parse commit timestamp %q: %w", parts[2], err)
	}

	return &CommitInfo{
		SHA:       parts[0],
		Author:    parts[1],
		Timestamp: time.Unix(ts, 0),
		Message:   parts[3],
	}, nil
}

// FileDeletedInHistory reports whether path was deleted in a past commit.
func (r *Repo) FileDeletedInHistory(ctx context.Context, path string) (bool, error) {
	output, err := r.run(ctx, "log", "--diff-filter=D", "--format=%H", "-1", "--", path)
	if err != nil {
		return false, fmt.Errorf("git log --diff-filter=D failed for %s in %s: %w", path, r.workDir, err)
	}
	return output != "", nil
}

// IsFileTracked reports whether path is tracked at HEAD.
func (r *Repo) IsFileTracked(ctx context.Context, path string) (bool, error) {
	_, err := r.run(ctx, "ls-files", "--error-unmatch", path)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if AsCommandError(err, &cmdErr) {
		return false, nil
	}
	return false, err
}
