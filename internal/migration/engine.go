// Package migration backfills the state store from file-only projects.
// Four strictly sequential phases run on an isolation branch, each sealed
// with an empty checkpoint commit; any failure deletes the branch and
// hard-resets to the original revision.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/git"
	"github.com/gao-dev/devstate/internal/storage"
	"github.com/gao-dev/devstate/internal/types"
)

// DefaultBranch is the isolation branch migrations run on.
const DefaultBranch = "migration/hybrid-architecture"

// Options controls a migration run.
type Options struct {
	// DryRun discovers and parses but writes nothing.
	DryRun bool

	// CreateBranch runs the phases on the migration branch.
	CreateBranch bool

	// AutoMerge merges the branch back with --no-ff on success.
	AutoMerge bool

	// Branch overrides DefaultBranch.
	Branch string
}

// Result reports a migration run.
type Result struct {
	Success           bool          `json:"success"`
	DryRun            bool          `json:"dry_run"`
	PhaseCompleted    int           `json:"phase_completed"`
	EpicsMigrated     int           `json:"epics_migrated"`
	StoriesMigrated   int           `json:"stories_migrated"`
	EpicsSkipped      int           `json:"epics_skipped"`
	StoriesSkipped    int           `json:"stories_skipped"`
	Checkpoints       []string      `json:"checkpoints"`
	RollbackPerformed bool          `json:"rollback_performed"`
	Duration          time.Duration `json:"duration"`
	Err               string        `json:"error,omitempty"`
}

// Engine runs the four-phase backfill.
type Engine struct {
	repo  *git.Repo
	store *storage.Store
	root  string
	log   logrus.FieldLogger
}

// NewEngine wires a migration engine. root is the project directory the
// docs tree lives under.
func NewEngine(repo *git.Repo, store *storage.Store, root string, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{repo: repo, store: store, root: root, log: log}
}

// Run executes the migration. The returned Result is non-nil even on
// failure; the error mirrors Result.Err for callers that only check one.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	branch := opts.Branch
	if branch == "" {
		branch = DefaultBranch
	}

	res := &Result{DryRun: opts.DryRun}

	epicFiles, storyFiles, err := e.discover()
	if err != nil {
		res.Err = err.Error()
		res.Duration = time.Since(start)
		return res, err
	}

	if opts.DryRun {
		res.Success = true
		res.EpicsMigrated = len(epicFiles)
		res.StoriesMigrated = len(storyFiles)
		res.Duration = time.Since(start)
		return res, nil
	}

	clean, err := e.repo.IsClean(ctx)
	if err != nil {
		res.Err = err.Error()
		return res, err
	}
	if !clean {
		err := errors.New("working tree has uncommitted changes")
		res.Err = err.Error()
		return res, err
	}

	originalBranch, err := e.repo.CurrentBranch(ctx)
	if err != nil {
		res.Err = err.Error()
		return res, err
	}
	originalHead, err := e.repo.Head(ctx)
	if err != nil {
		res.Err = err.Error()
		return res, err
	}

	if opts.CreateBranch {
		if e.repo.BranchExists(ctx, branch) {
			// A previous failed run may have left the branch behind.
			if err := e.repo.DeleteBranch(ctx, branch, true); err != nil {
				res.Err = err.Error()
				return res, err
			}
		}
		if err := e.repo.CreateBranch(ctx, branch, true); err != nil {
			res.Err = err.Error()
			return res, err
		}
	}

	fail := func(phase int, cause error) (*Result, error) {
		res.PhaseCompleted = phase - 1
		res.Err = cause.Error()
		res.RollbackPerformed = e.rollback(ctx, opts.CreateBranch, branch, originalBranch, originalHead)
		res.Duration = time.Since(start)
		e.log.WithError(cause).WithFields(logrus.Fields{
			"phase": phase, "rollback": res.RollbackPerformed}).Error("migration failed")
		return res, cause
	}

	// Phase 1: create tables.
	if err := e.store.EnsureSchema(ctx); err != nil {
		return fail(1, err)
	}
	if err := e.checkpoint(ctx, res, 1, "create state tables"); err != nil {
		return fail(1, err)
	}
	res.PhaseCompleted = 1

	// Phase 2: backfill epics.
	for _, path := range epicFiles {
		epic, err := e.parseEpic(path)
		if err != nil {
			return fail(2, err)
		}
		if err := e.store.CreateEpic(ctx, epic); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				res.EpicsSkipped++
				continue
			}
			return fail(2, err)
		}
		res.EpicsMigrated++
	}
	if err := e.checkpoint(ctx, res, 2,
		fmt.Sprintf("backfill %d epics", res.EpicsMigrated)); err != nil {
		return fail(2, err)
	}
	res.PhaseCompleted = 2

	// Phase 3: backfill stories with git-inferred statuses.
	for _, path := range storyFiles {
		story, err := e.parseStory(ctx, path)
		if err != nil {
			return fail(3, err)
		}
		if err := e.store.CreateStory(ctx, story, false); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				res.StoriesSkipped++
				continue
			}
			return fail(3, err)
		}
		res.StoriesMigrated++
	}
	if err := e.checkpoint(ctx, res, 3,
		fmt.Sprintf("backfill %d stories", res.StoriesMigrated)); err != nil {
		return fail(3, err)
	}
	res.PhaseCompleted = 3

	// Phase 4: validate every discovered file has a store row.
	if err := e.validate(ctx, epicFiles, storyFiles); err != nil {
		return fail(4, err)
	}
	if err := e.checkpoint(ctx, res, 4, "validate migrated records"); err != nil {
		return fail(4, err)
	}
	res.PhaseCompleted = 4

	if opts.CreateBranch && opts.AutoMerge {
		if err := e.repo.Checkout(ctx, originalBranch); err != nil {
			return fail(4, err)
		}
		msg := git.Message{Type: git.CommitChore, Scope: "migration",
			Subject: "merge state backfill"}
		if err := e.repo.Merge(ctx, branch, true, msg.Render()); err != nil {
			return fail(4, err)
		}
		if err := e.repo.DeleteBranch(ctx, branch, false); err != nil {
			e.log.WithError(err).Warn("failed to delete merged migration branch")
		}
	}

	res.Success = true
	res.Duration = time.Since(start)
	e.log.WithFields(logrus.Fields{
		"epics":    res.EpicsMigrated,
		"stories":  res.StoriesMigrated,
		"duration": res.Duration,
	}).Info("migration complete")
	return res, nil
}

// checkpoint seals a phase with an empty commit and records its sha.
func (e *Engine) checkpoint(ctx context.Context, res *Result, phase int, subject string) error {
	msg := git.Message{Type: git.CommitChore, Scope: "migration",
		Subject: fmt.Sprintf("phase %d: %s", phase, subject)}
	sha, err := e.repo.Commit(ctx, msg.Render(), true)
	if err != nil {
		return fmt.Errorf("phase %d checkpoint: %w", phase, err)
	}
	res.Checkpoints = append(res.Checkpoints, sha)
	return nil
}

// rollback deletes the migration branch and restores the original
// revision. Returns false when any restoration step fails.
func (e *Engine) rollback(ctx context.Context, branched bool, branch, originalBranch, originalHead string) bool {
	ok := true
	if branched {
		if err := e.repo.Checkout(ctx, originalBranch); err != nil {
			e.log.WithError(err).Error("rollback: checkout failed")
			ok = false
		}
		if e.repo.BranchExists(ctx, branch) {
			if err := e.repo.DeleteBranch(ctx, branch, true); err != nil {
				e.log.WithError(err).Error("rollback: branch delete failed")
				ok = false
			}
		}
	}
	if err := e.repo.ResetHard(ctx, originalHead); err != nil {
		e.log.WithError(err).Error("rollback: reset failed")
		ok = false
	}
	return ok
}

// discover walks docs/ for legacy epic-N.md and story-E.S.md files.
func (e *Engine) discover() (epicFiles, storyFiles []string, err error) {
	docsRoot := filepath.Join(e.root, "docs")
	err = filepath.WalkDir(docsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		switch {
		case epicFileRe.MatchString(name):
			epicFiles = append(epicFiles, path)
		case storyFileRe.MatchString(name):
			storyFiles = append(storyFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover documents: %w", err)
	}
	return epicFiles, storyFiles, nil
}

func (e *Engine) parseEpic(path string) (*types.Epic, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	epic, err := ParseEpicFile(filepath.Base(path), string(content))
	if err != nil {
		return nil, err
	}
	rel, _ := filepath.Rel(e.root, path)
	epic.Metadata = map[string]any{"filePath": rel}
	return epic, nil
}

func (e *Engine) parseStory(ctx context.Context, path string) (*types.Story, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	story, err := ParseStoryFile(filepath.Base(path), string(content))
	if err != nil {
		return nil, err
	}

	rel, _ := filepath.Rel(e.root, path)
	story.Metadata = map[string]any{"filePath": rel}

	// Frontmatter pins the status; otherwise the last commit touching the
	// file decides.
	if story.Status == "" {
		info, err := e.repo.LastCommitForPath(ctx, rel)
		if err != nil {
			return nil, err
		}
		if info == nil {
			story.Status = types.StoryStatusPending
		} else {
			story.Status = git.InferStoryStatus(info.Message)
		}
	}
	return story, nil
}

// validate re-queries every discovered file and fails on missing rows.
func (e *Engine) validate(ctx context.Context, epicFiles, storyFiles []string) error {
	var missing []string

	for _, path := range epicFiles {
		epic, err := ParseEpicFile(filepath.Base(path), "")
		if err != nil {
			return err
		}
		if _, err := e.store.GetEpic(ctx, epic.EpicNum); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				missing = append(missing, filepath.Base(path))
				continue
			}
			return err
		}
	}
	for _, path := range storyFiles {
		story, err := ParseStoryFile(filepath.Base(path), "")
		if err != nil {
			return err
		}
		if _, err := e.store.GetStory(ctx, story.EpicNum, story.StoryNum); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				missing = append(missing, filepath.Base(path))
				continue
			}
			return err
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("validation found %d missing records: %v", len(missing), missing)
	}
	return nil
}
