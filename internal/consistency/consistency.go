// Package consistency detects and repairs divergence between the document
// tree, the state store, and git history. The filesystem is the source of
// truth during repair.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/git"
	"github.com/gao-dev/devstate/internal/migration"
	"github.com/gao-dev/devstate/internal/storage"
	"github.com/gao-dev/devstate/internal/types"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one detected divergence.
type Issue struct {
	Severity Severity `json:"severity"`
	Entity   string   `json:"entity,omitempty"`
	Path     string   `json:"path,omitempty"`
	Detail   string   `json:"detail"`
}

// Report groups issues by divergence class.
type Report struct {
	UncommittedChanges []Issue `json:"uncommitted_changes"`
	OrphanedRecords    []Issue `json:"orphaned_records"`
	UnregisteredFiles  []Issue `json:"unregistered_files"`
	StateMismatches    []Issue `json:"state_mismatches"`
}

// HasIssues reports whether any divergence was found.
func (r *Report) HasIssues() bool {
	return len(r.UncommittedChanges)+len(r.OrphanedRecords)+
		len(r.UnregisteredFiles)+len(r.StateMismatches) > 0
}

// Total counts all issues.
func (r *Report) Total() int {
	return len(r.UncommittedChanges) + len(r.OrphanedRecords) +
		len(r.UnregisteredFiles) + len(r.StateMismatches)
}

// RepairResult summarizes a repair pass.
type RepairResult struct {
	OrphansDeleted    int      `json:"orphans_deleted"`
	FilesRegistered   int      `json:"files_registered"`
	StatusesRepaired  int      `json:"statuses_repaired"`
	CommitSHA         string   `json:"commit_sha,omitempty"`
	Errors            []string `json:"errors,omitempty"`
}

// Engine compares the three sources of state.
type Engine struct {
	repo  *git.Repo
	store *storage.Store
	root  string
	log   logrus.FieldLogger
}

// NewEngine wires a consistency engine rooted at the project directory.
func NewEngine(repo *git.Repo, store *storage.Store, root string, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{repo: repo, store: store, root: root, log: log}
}

// Check runs all four divergence checks and returns the report.
func (e *Engine) Check(ctx context.Context) (*Report, error) {
	report := &Report{}

	clean, err := e.repo.IsClean(ctx)
	if err != nil {
		return nil, err
	}
	if !clean {
		report.UncommittedChanges = append(report.UncommittedChanges, Issue{
			Severity: SeverityWarning,
			Detail:   "working tree has uncommitted changes; commit or stash before repair",
		})
	}

	if err := e.checkOrphans(ctx, report); err != nil {
		return nil, err
	}
	if err := e.checkUnregisteredAndMismatches(ctx, report); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"orphaned":     len(report.OrphanedRecords),
		"unregistered": len(report.UnregisteredFiles),
		"mismatches":   len(report.StateMismatches),
	}).Info("consistency check complete")
	return report, nil
}

// checkOrphans flags store rows whose recorded file no longer exists and
// is confirmed gone from git's perspective (deleted in history or never
// tracked).
func (e *Engine) checkOrphans(ctx context.Context, report *Report) error {
	stories, err := e.store.ListStories(ctx, types.StoryFilter{})
	if err != nil {
		return err
	}
	for _, s := range stories {
		path, ok := s.Metadata["filePath"].(string)
		if !ok || path == "" {
			continue
		}
		orphaned, err := e.isOrphaned(ctx, path)
		if err != nil {
			return err
		}
		if orphaned {
			report.OrphanedRecords = append(report.OrphanedRecords, Issue{
				Severity: SeverityError,
				Entity:   "story " + s.Key(),
				Path:     path,
				Detail:   "store row references a file that no longer exists",
			})
		}
	}

	epics, err := e.store.ListEpics(ctx, types.EpicFilter{})
	if err != nil {
		return err
	}
	for _, ep := range epics {
		path, ok := ep.Metadata["filePath"].(string)
		if !ok || path == "" {
			continue
		}
		orphaned, err := e.isOrphaned(ctx, path)
		if err != nil {
			return err
		}
		if orphaned {
			report.OrphanedRecords = append(report.OrphanedRecords, Issue{
				Severity: SeverityError,
				Entity:   fmt.Sprintf("epic %d", ep.EpicNum),
				Path:     path,
				Detail:   "store row references a file that no longer exists",
			})
		}
	}
	return nil
}

func (e *Engine) isOrphaned(ctx context.Context, rel string) (bool, error) {
	if _, err := os.Stat(filepath.Join(e.root, rel)); err == nil {
		return false, nil
	}
	deleted, err := e.repo.FileDeletedInHistory(ctx, rel)
	if err != nil {
		return false, err
	}
	if deleted {
		return true, nil
	}
	tracked, err := e.repo.IsFileTracked(ctx, rel)
	if err != nil {
		return false, err
	}
	return !tracked, nil
}

// checkUnregisteredAndMismatches walks the document tree once, flagging
// files without store rows and rows whose status disagrees with git.
func (e *Engine) checkUnregisteredAndMismatches(ctx context.Context, report *Report) error {
	return e.walkDocs(func(rel string, epicNum, storyNum int, isStory bool) error {
		if !isStory {
			_, err := e.store.GetEpic(ctx, epicNum)
			if errors.Is(err, storage.ErrNotFound) {
				report.UnregisteredFiles = append(report.UnregisteredFiles, Issue{
					Severity: SeverityWarning,
					Path:     rel,
					Detail:   fmt.Sprintf("epic %d exists on disk but not in the store", epicNum),
				})
				return nil
			}
			return err
		}

		story, err := e.store.GetStory(ctx, epicNum, storyNum)
		if errors.Is(err, storage.ErrNotFound) {
			report.UnregisteredFiles = append(report.UnregisteredFiles, Issue{
				Severity: SeverityWarning,
				Path:     rel,
				Detail:   fmt.Sprintf("story %d.%d exists on disk but not in the store", epicNum, storyNum),
			})
			return nil
		}
		if err != nil {
			return err
		}

		inferred, err := e.inferStatus(ctx, rel)
		if err != nil {
			return err
		}
		if inferred != story.Status {
			report.StateMismatches = append(report.StateMismatches, Issue{
				Severity: SeverityWarning,
				Entity:   "story " + story.Key(),
				Path:     rel,
				Detail: fmt.Sprintf("store status %q disagrees with git-inferred %q",
					story.Status, inferred),
			})
		}
		return nil
	})
}

func (e *Engine) inferStatus(ctx context.Context, rel string) (types.StoryStatus, error) {
	info, err := e.repo.LastCommitForPath(ctx, rel)
	if err != nil {
		return "", err
	}
	if info == nil {
		return types.StoryStatusPending, nil
	}
	return git.InferStoryStatus(info.Message), nil
}

// walkDocs visits every epic-N.md and story-E.S.md under docs/.
func (e *Engine) walkDocs(visit func(rel string, epicNum, storyNum int, isStory bool) error) error {
	docsRoot := filepath.Join(e.root, "docs")
	return filepath.WalkDir(docsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.root, path)
		if err != nil {
			return err
		}
		if epicNum, storyNum, isStory, ok := migration.ParseDocName(d.Name()); ok {
			return visit(rel, epicNum, storyNum, isStory)
		}
		return nil
	})
}
