package migration

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

const epicDoc = `# Epic 1: Authentication

**Status**: In Progress
**Total Stories**: 2

Overview text.
`

func TestRunBackfillsEpicsAndStories(t *testing.T) {
	e, repo, store := setup(t)
	ctx := context.Background()

	commitDoc(t, repo, "docs/epics/epic-1.md", epicDoc, "docs: add epic 1")
	commitDoc(t, repo, "docs/stories/story-1.1.md",
		"# Story 1.1: Login endpoint\n\n**Priority**: P1\n**Owner**: sam\n**Estimate**: 4 hours\n",
		"feat(story-1.1): create login endpoint")
	commitDoc(t, repo, "docs/stories/story-1.2.md",
		"# Story 1.2: Logout endpoint\n",
		"wip: logout half done")

	res, err := e.Run(ctx, Options{CreateBranch: true, AutoMerge: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, res.PhaseCompleted)
	assert.Equal(t, 1, res.EpicsMigrated)
	assert.Equal(t, 2, res.StoriesMigrated)
	assert.Len(t, res.Checkpoints, 4)

	epic, err := store.GetEpic(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Authentication", epic.Title)
	assert.Equal(t, types.EpicStatusInProgress, epic.Status)
	assert.Equal(t, 2, epic.TotalStories)

	s1, err := store.GetStory(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "Login endpoint", s1.Title)
	assert.Equal(t, types.StoryStatusCompleted, s1.Status, "feat( commit implies completed")
	assert.Equal(t, types.PriorityP1, s1.Priority)
	assert.Equal(t, "sam", s1.Assignee)
	require.NotNil(t, s1.EstimateHours)
	assert.Equal(t, 4.0, *s1.EstimateHours)

	s2, err := store.GetStory(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, types.StoryStatusInProgress, s2.Status, "wip commit implies in_progress")

	// Merged back to main, branch cleaned up.
	branch, err := repo.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	assert.False(t, repo.BranchExists(ctx, DefaultBranch))
}

func TestRunIsIdempotent(t *testing.T) {
	e, repo, _ := setup(t)
	ctx := context.Background()

	commitDoc(t, repo, "docs/epics/epic-1.md", epicDoc, "docs: add epic 1")
	commitDoc(t, repo, "docs/stories/story-1.1.md", "# Story 1.1: Login\n", "docs: add story")

	res, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.EpicsMigrated)
	assert.Equal(t, 0, res.StoriesMigrated)
	assert.Equal(t, 1, res.EpicsSkipped)
	assert.Equal(t, 1, res.StoriesSkipped)
}

func TestDryRunWritesNothing(t *testing.T) {
	e, repo, store := setup(t)
	ctx := context.Background()

	commitDoc(t, repo, "docs/epics/epic-1.md", epicDoc, "docs: add epic 1")
	head, _ := repo.Head(ctx)

	res, err := e.Run(ctx, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.EpicsMigrated)

	_, err = store.GetEpic(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	after, _ := repo.Head(ctx)
	assert.Equal(t, head, after, "dry run must not commit")
}

func TestFailureRollsBackBranch(t *testing.T) {
	e, repo, _ := setup(t)
	ctx := context.Background()

	// An unparseable status fails phase 2.
	commitDoc(t, repo, "docs/epics/epic-1.md",
		"# Epic 1: Broken\n\n**Status**: nonsense\n", "docs: add broken epic")
	head, _ := repo.Head(ctx)

	res, err := e.Run(ctx, Options{CreateBranch: true})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.PhaseCompleted)
	assert.True(t, res.RollbackPerformed)

	branch, err := repo.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	assert.False(t, repo.BranchExists(ctx, DefaultBranch))

	after, _ := repo.Head(ctx)
	assert.Equal(t, head, after)
}

func TestDirtyTreeRejected(t *testing.T) {
	e, repo, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(repo.WorkDir(), "dirty.txt"), []byte("x"), 0644))
	res, err := e.Run(ctx, Options{})
	require.Error(t, err)
	assert.False(t, res.Success)
}
