package consistency

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/git"
	"github.com/gao-dev/devstate/internal/migration"
)

// Repair fixes the report's issues with the filesystem as source of
// truth: orphan rows are deleted, unregistered files inserted, and stale
// statuses forced to the git-inferred value. Uncommitted changes are
// never repaired. Per-issue failures are collected, not fatal; the call
// itself fails only when every attempted repair failed. When
// createCommit is set an empty commit records the repair.
func (e *Engine) Repair(ctx context.Context, report *Report, createCommit bool) (*RepairResult, error) {
	res := &RepairResult{}

	for _, issue := range report.OrphanedRecords {
		if err := e.deleteOrphan(ctx, issue); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", issue.Entity, err))
			continue
		}
		res.OrphansDeleted++
	}

	for _, issue := range report.UnregisteredFiles {
		if err := e.registerFile(ctx, issue.Path); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", issue.Path, err))
			continue
		}
		res.FilesRegistered++
	}

	for _, issue := range report.StateMismatches {
		if err := e.repairStatus(ctx, issue); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", issue.Entity, err))
			continue
		}
		res.StatusesRepaired++
	}

	repaired := res.OrphansDeleted + res.FilesRegistered + res.StatusesRepaired
	if createCommit && repaired > 0 {
		msg := git.Message{Type: git.CommitChore, Scope: "consistency",
			Subject: fmt.Sprintf("repair %d state divergences", repaired)}
		sha, err := e.repo.Commit(ctx, msg.Render(), true)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("repair commit: %v", err))
		} else {
			res.CommitSHA = sha
		}
	}

	e.log.WithFields(logrus.Fields{
		"orphans_deleted":   res.OrphansDeleted,
		"files_registered":  res.FilesRegistered,
		"statuses_repaired": res.StatusesRepaired,
		"errors":            len(res.Errors),
	}).Info("consistency repair complete")

	if repaired == 0 && len(res.Errors) > 0 {
		return res, fmt.Errorf("no issues repaired, %d failed: %s", len(res.Errors), res.Errors[0])
	}
	return res, nil
}

// deleteOrphan removes the store row an orphan issue points at. Issue
// entities are rendered as "story E.S" or "epic N" by Check.
func (e *Engine) deleteOrphan(ctx context.Context, issue Issue) error {
	switch {
	case strings.HasPrefix(issue.Entity, "story "):
		var epicNum, storyNum int
		if _, err := fmt.Sscanf(issue.Entity, "story %d.%d", &epicNum, &storyNum); err != nil {
			return fmt.Errorf("unparseable entity %q", issue.Entity)
		}
		return e.store.DeleteStory(ctx, epicNum, storyNum)
	case strings.HasPrefix(issue.Entity, "epic "):
		var epicNum int
		if _, err := fmt.Sscanf(issue.Entity, "epic %d", &epicNum); err != nil {
			return fmt.Errorf("unparseable entity %q", issue.Entity)
		}
		return e.store.DeleteEpic(ctx, epicNum)
	default:
		return fmt.Errorf("unknown entity %q", issue.Entity)
	}
}

// registerFile inserts the store row for an on-disk document. Titles come
// from the first heading; story statuses from git history.
func (e *Engine) registerFile(ctx context.Context, rel string) error {
	content, err := os.ReadFile(filepath.Join(e.root, rel))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", rel, err)
	}

	name := filepath.Base(rel)
	_, _, isStory, ok := migration.ParseDocName(name)
	if !ok {
		return fmt.Errorf("not a recognized document: %s", name)
	}

	if !isStory {
		epic, err := migration.ParseEpicFile(name, string(content))
		if err != nil {
			return err
		}
		epic.Metadata = map[string]any{"filePath": rel}
		return e.store.CreateEpic(ctx, epic)
	}

	story, err := migration.ParseStoryFile(name, string(content))
	if err != nil {
		return err
	}
	story.Metadata = map[string]any{"filePath": rel}
	if story.Status == "" {
		inferred, err := e.inferStatus(ctx, rel)
		if err != nil {
			return err
		}
		story.Status = inferred
	}
	return e.store.CreateStory(ctx, story, false)
}

// repairStatus forces a story's status to the git-inferred value. The
// transition map is bypassed: repair reconciles, it does not workflow.
func (e *Engine) repairStatus(ctx context.Context, issue Issue) error {
	var epicNum, storyNum int
	if _, err := fmt.Sscanf(issue.Entity, "story %d.%d", &epicNum, &storyNum); err != nil {
		return fmt.Errorf("unparseable entity %q", issue.Entity)
	}
	inferred, err := e.inferStatus(ctx, issue.Path)
	if err != nil {
		return err
	}
	if !inferred.IsValid() {
		return fmt.Errorf("inferred status %q invalid", inferred)
	}
	return e.store.ForceStoryStatus(ctx, epicNum, storyNum, inferred, "")
}
