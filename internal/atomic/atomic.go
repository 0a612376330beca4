// Package atomic implements the transactional envelope around state
// mutations: a clean working tree is required, a checkpoint revision is
// recorded, filesystem writes happen before database writes, and the
// operation ends in a single commit. Any failure hard-resets the working
// tree to the checkpoint and compensates the database.
package atomic

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/docs"
	"github.com/gao-dev/devstate/internal/git"
	"github.com/gao-dev/devstate/internal/storage"
	"github.com/gao-dev/devstate/internal/types"
)

// ErrWorkingTreeDirty is returned when the pre-flight cleanliness check
// fails. The caller must reconcile the tree externally; nothing was
// mutated.
var ErrWorkingTreeDirty = errors.New("working tree has uncommitted changes")

// RollbackError reports a failed operation whose rollback also failed.
// Both errors are preserved; the working tree may need manual repair.
type RollbackError struct {
	Op          string
	Checkpoint  string
	Err         error
	RollbackErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%s failed (%v) and rollback to %s failed (%v)",
		e.Op, e.Err, e.Checkpoint, e.RollbackErr)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// Manager executes atomic state operations. Operations must not run
// concurrently against the same working tree.
type Manager struct {
	repo  *git.Repo
	store *storage.Store
	docs  *docs.Manager
	log   logrus.FieldLogger
}

// NewManager wires the envelope over its collaborators.
func NewManager(repo *git.Repo, store *storage.Store, docsMgr *docs.Manager, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{repo: repo, store: store, docs: docsMgr, log: log}
}

// phases carries one operation through the envelope. fs runs first and is
// undone by the checkpoint reset alone. db runs second and returns a
// compensation that is invoked when a later phase fails. A non-empty
// override replaces the conventional commit message.
type phases struct {
	op       string
	message  git.Message
	override string
	fs       func(ctx context.Context) error
	db       func(ctx context.Context) (compensate func(context.Context) error, err error)
}

func (m *Manager) run(ctx context.Context, p phases) (string, error) {
	clean, err := m.repo.IsClean(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check working tree: %w", err)
	}
	if !clean {
		return "", fmt.Errorf("%s: %w", p.op, ErrWorkingTreeDirty)
	}

	checkpoint, err := m.repo.Head(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to record checkpoint: %w", err)
	}

	log := m.log.WithFields(logrus.Fields{"operation": p.op, "checkpoint": checkpoint})

	if p.fs != nil {
		if err := p.fs(ctx); err != nil {
			return "", m.rollback(ctx, p.op, checkpoint, nil, fmt.Errorf("filesystem phase: %w", err))
		}
	}

	var compensate func(context.Context) error
	if p.db != nil {
		compensate, err = p.db(ctx)
		if err != nil {
			return "", m.rollback(ctx, p.op, checkpoint, nil, fmt.Errorf("database phase: %w", err))
		}
	}

	if err := m.repo.AddAll(ctx); err != nil {
		return "", m.rollback(ctx, p.op, checkpoint, compensate, fmt.Errorf("stage phase: %w", err))
	}
	msg := p.message.Render()
	if p.override != "" {
		msg = p.override
	}
	// Status-only transitions touch no files; empty commits are fine.
	sha, err := m.repo.Commit(ctx, msg, true)
	if err != nil {
		return "", m.rollback(ctx, p.op, checkpoint, compensate, fmt.Errorf("commit phase: %w", err))
	}

	log.WithField("commit", sha).Info("atomic operation committed")
	return sha, nil
}

// rollback resets the working tree to the checkpoint and runs the
// database compensation. A failure in either is bundled with the
// original error.
func (m *Manager) rollback(ctx context.Context, op, checkpoint string, compensate func(context.Context) error, cause error) error {
	m.log.WithFields(logrus.Fields{"operation": op, "checkpoint": checkpoint}).
		WithError(cause).Warn("atomic operation failed, rolling back")

	if err := m.repo.ResetHard(ctx, checkpoint); err != nil {
		return &RollbackError{Op: op, Checkpoint: checkpoint, Err: cause, RollbackErr: err}
	}
	if compensate != nil {
		if err := compensate(ctx); err != nil {
			return &RollbackError{Op: op, Checkpoint: checkpoint, Err: cause, RollbackErr: err}
		}
	}
	return cause
}

// CreateFeature creates the feature's document structure and store row
// in one envelope. The seeded paths are recorded in metadata.filePath.
// A non-empty message replaces the conventional commit message.
func (m *Manager) CreateFeature(ctx context.Context, feature *types.Feature, message string) (string, error) {
	if err := feature.Validate(); err != nil {
		return "", err
	}

	return m.run(ctx, phases{
		op: "create-feature",
		message: git.Message{Type: git.CommitFeat, Scope: feature.Name,
			Subject: fmt.Sprintf("create feature %q", feature.Name)},
		override: message,
		fs: func(ctx context.Context) error {
			_, err := m.docs.CreateFeatureStructure(ctx, feature, false)
			return err
		},
		db: func(ctx context.Context) (func(context.Context) error, error) {
			if feature.ScaleLevel >= 2 {
				if feature.Metadata == nil {
					feature.Metadata = map[string]any{}
				}
				feature.Metadata["filePath"] = docs.Render(
					m.docs.Templates().PRDLocation, docs.Vars{FeatureName: feature.Name})
			}
			if err := m.store.CreateFeature(ctx, feature); err != nil {
				return nil, err
			}
			return func(ctx context.Context) error {
				return m.store.DeleteFeature(ctx, feature.Name)
			}, nil
		},
	})
}

// CreateEpic creates the epic row and, when the epic belongs to a
// feature, its overview document. A non-empty message replaces the
// conventional commit message.
func (m *Manager) CreateEpic(ctx context.Context, epic *types.Epic, message string) (string, error) {
	if err := epic.Validate(); err != nil {
		return "", err
	}

	var overviewPath string
	return m.run(ctx, phases{
		op: "create-epic",
		message: git.Message{Type: git.CommitFeat, Scope: git.EpicScope(epic.EpicNum),
			Subject: fmt.Sprintf("create epic %q", epic.Title)},
		override: message,
		fs: func(ctx context.Context) error {
			if epic.Feature == "" {
				return nil
			}
			rel, err := m.docs.WriteEpicOverview(epic.Feature, epic)
			if err != nil {
				return err
			}
			overviewPath = rel
			return nil
		},
		db: func(ctx context.Context) (func(context.Context) error, error) {
			if overviewPath != "" {
				if epic.Metadata == nil {
					epic.Metadata = map[string]any{}
				}
				epic.Metadata["filePath"] = overviewPath
			}
			if err := m.store.CreateEpic(ctx, epic); err != nil {
				return nil, err
			}
			return func(ctx context.Context) error {
				return m.store.DeleteEpic(ctx, epic.EpicNum)
			}, nil
		},
	})
}

// CreateStoryOptions carries the optional inputs for CreateStory.
// Feature and EpicTitle locate the story file; when Feature is empty no
// document is written. A non-empty Message replaces the conventional
// commit message.
type CreateStoryOptions struct {
	Feature        string
	EpicTitle      string
	AutoUpdateEpic bool
	Message        string
}

// CreateStory creates the story document and row in one envelope.
func (m *Manager) CreateStory(ctx context.Context, story *types.Story, opts CreateStoryOptions) (string, error) {
	if err := story.Validate(); err != nil {
		return "", err
	}

	var storyPath string
	return m.run(ctx, phases{
		op: "create-story",
		message: git.Message{Type: git.CommitFeat, Scope: git.StoryScope(story.EpicNum, story.StoryNum),
			Subject: fmt.Sprintf("create %s", story.Title)},
		override: opts.Message,
		fs: func(ctx context.Context) error {
			if opts.Feature == "" {
				return nil
			}
			rel, err := m.docs.WriteStoryDocument(opts.Feature, opts.EpicTitle, story)
			if err != nil {
				return err
			}
			storyPath = rel
			return nil
		},
		db: func(ctx context.Context) (func(context.Context) error, error) {
			if storyPath != "" {
				if story.Metadata == nil {
					story.Metadata = map[string]any{}
				}
				story.Metadata["filePath"] = storyPath
			}
			if err := m.store.CreateStory(ctx, story, opts.AutoUpdateEpic); err != nil {
				return nil, err
			}
			return func(ctx context.Context) error {
				return m.store.DeleteStory(ctx, story.EpicNum, story.StoryNum)
			}, nil
		},
	})
}

// TransitionStory moves a story's status inside the envelope. The commit
// is empty unless the caller has staged related document edits before the
// operation (which the pre-check forbids), so in practice this records a
// status-only empty commit. A non-empty message replaces the
// conventional commit message.
func (m *Manager) TransitionStory(ctx context.Context, epicNum, storyNum int, newStatus types.StoryStatus, blockedReason, message string) (string, error) {
	prev, err := m.store.GetStory(ctx, epicNum, storyNum)
	if err != nil {
		return "", err
	}

	return m.run(ctx, phases{
		op: "transition-story",
		message: git.Message{Type: git.CommitChore, Scope: git.StoryScope(epicNum, storyNum),
			Subject: fmt.Sprintf("transition to %s", newStatus)},
		override: message,
		db: func(ctx context.Context) (func(context.Context) error, error) {
			if _, err := m.store.TransitionStory(ctx, epicNum, storyNum, newStatus, blockedReason); err != nil {
				return nil, err
			}
			return func(ctx context.Context) error {
				return m.store.ForceStoryStatus(ctx, epicNum, storyNum, prev.Status, prev.BlockedReason)
			}, nil
		},
	})
}
