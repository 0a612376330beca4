package consistency

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gao-dev/devstate/internal/git"
	"github.com/gao-dev/devstate/internal/storage"
	"github.com/gao-dev/devstate/internal/types"
)

func setup(t *testing.T) (*Engine, *git.Repo, *storage.Store) {
	t.Helper()
	dir := t.TempDir()

	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	ctx := context.Background()
	repo, err := git.New(ctx, dir)
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# project\n"), 0644))
	require.NoError(t, repo.AddAll(ctx))
	_, err = repo.Commit(ctx, "chore: initial commit", false)
	require.NoError(t, err)

	return NewEngine(repo, store, dir, log), repo, store
}

func commitDoc(t *testing.T, repo *git.Repo, rel, body, message string) {
	t.Helper()
	ctx := context.Background()
	abs := filepath.Join(repo.WorkDir(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(body), 0644))
	require.NoError(t, repo.AddAll(ctx))
	_, err := repo.Commit(ctx, message, false)
	require.NoError(t, err)
}

func TestCheckCleanProject(t *testing.T) {
	e, _, _ := setup(t)
	report, err := e.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, report.HasIssues())
	assert.Equal(t, 0, report.Total())
}

func TestCheckUncommittedChanges(t *testing.T) {
	e, repo, _ := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(repo.WorkDir(), "dirty.txt"), []byte("x"), 0644))

	report, err := e.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, report.UncommittedChanges, 1)
	assert.Equal(t, SeverityWarning, report.UncommittedChanges[0].Severity)
}

func TestCheckOrphanedRecord(t *testing.T) {
	e, repo, store := setup(t)
	ctx := context.Background()

	// Story file committed then deleted in history: the row is orphaned.
	commitDoc(t, repo, "docs/stories/story-1.1.md", "# Story 1.1: Gone\n", "feat(story-1.1): add")
	require.NoError(t, store.CreateEpic(ctx, &types.Epic{EpicNum: 1, Title: "Epic 1"}))
	require.NoError(t, store.CreateStory(ctx, &types.Story{
		EpicNum: 1, StoryNum: 1, Title: "Gone", Status: types.StoryStatusCompleted,
		Metadata: map[string]any{"filePath": "docs/stories/story-1.1.md"},
	}, false))

	require.NoError(t, os.Remove(filepath.Join(repo.WorkDir(), "docs/stories/story-1.1.md")))
	require.NoError(t, repo.AddAll(ctx))
	_, err := repo.Commit(ctx, "chore: remove story file", false)
	require.NoError(t, err)

	report, err := e.Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.OrphanedRecords, 1)
	assert.Equal(t, SeverityError, report.OrphanedRecords[0].Severity)
	assert.Equal(t, "story 1.1", report.OrphanedRecords[0].Entity)

	// Repair deletes the orphan row.
	res, err := e.Repair(ctx, report, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.OrphansDeleted)
	assert.Empty(t, res.Errors)

	_, err = store.GetStory(ctx, 1, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCheckUnregisteredFileAndRepair(t *testing.T) {
	e, repo, store := setup(t)
	ctx := context.Background()

	commitDoc(t, repo, "docs/epics/epic-2.md",
		"# Epic 2: Search\n\n**Status**: planning\n**Total Stories**: 1\n", "docs: add epic 2")
	commitDoc(t, repo, "docs/stories/story-2.1.md",
		"# Story 2.1: Indexer\n", "feat(story-2.1): indexer done")

	report, err := e.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, report.UnregisteredFiles, 2)

	res, err := e.Repair(ctx, report, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesRegistered)
	assert.NotEmpty(t, res.CommitSHA)

	epic, err := store.GetEpic(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Search", epic.Title)

	story, err := store.GetStory(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, "Indexer", story.Title)
	assert.Equal(t, types.StoryStatusCompleted, story.Status, "feat( commit implies completed")

	// A second check is clean for these classes.
	report, err = e.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.UnregisteredFiles)
	assert.Empty(t, report.OrphanedRecords)
}

func TestCheckStateMismatchAndRepair(t *testing.T) {
	e, repo, store := setup(t)
	ctx := context.Background()

	commitDoc(t, repo, "docs/stories/story-3.1.md",
		"# Story 3.1: Cache layer\n", "feat(story-3.1): cache layer complete")
	require.NoError(t, store.CreateEpic(ctx, &types.Epic{EpicNum: 3, Title: "Epic 3"}))
	require.NoError(t, store.CreateStory(ctx, &types.Story{
		EpicNum: 3, StoryNum: 1, Title: "Cache layer", Status: types.StoryStatusPending,
		Metadata: map[string]any{"filePath": "docs/stories/story-3.1.md"},
	}, false))

	report, err := e.Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.StateMismatches, 1)
	assert.Contains(t, report.StateMismatches[0].Detail, `"pending"`)
	assert.Contains(t, report.StateMismatches[0].Detail, `"completed"`)

	res, err := e.Repair(ctx, report, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.StatusesRepaired)

	story, err := store.GetStory(ctx, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, types.StoryStatusCompleted, story.Status)
}

func TestRepairFailsWhenNothingRepaired(t *testing.T) {
	e, _, store := setup(t)
	ctx := context.Background()

	// Orphan rows for entities that never existed: every delete fails,
	// so the call itself must fail rather than report a clean repair.
	report := &Report{OrphanedRecords: []Issue{
		{Entity: "story 9.9", Severity: SeverityError},
		{Entity: "epic 9", Severity: SeverityError},
	}}

	res, err := e.Repair(ctx, report, false)
	require.Error(t, err)
	assert.Equal(t, 0, res.OrphansDeleted)
	assert.Len(t, res.Errors, 2)

	// A partial repair still succeeds; failures travel in Errors.
	require.NoError(t, store.CreateEpic(ctx, &types.Epic{EpicNum: 9, Title: "Epic 9"}))
	res, err = e.Repair(ctx, report, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.OrphansDeleted)
	assert.Len(t, res.Errors, 1)
}
