package atomic

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gao-dev/devstate/internal/docs"
	"github.com/gao-dev/devstate/internal/git"
	"github.com/gao-dev/devstate/internal/storage"
	"github.com/gao-dev/devstate/internal/types"
)

func setup(t *testing.T) (*Manager, *git.Repo, *storage.Store) {
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

	// The state database lives outside the working tree so db writes
	// never dirty it.
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(".gao-dev/\n"), 0644))
	require.NoError(t, repo.AddAll(ctx))
	_, err = repo.Commit(ctx, "chore: initial commit", false)
	require.NoError(t, err)

	docsMgr := docs.NewManager(dir, docs.DefaultTemplates(), nil, repo, log)
	return NewManager(repo, store, docsMgr, log), repo, store
}

func TestCreateFeatureCommitsStructureAndRow(t *testing.T) {
	m, repo, store := setup(t)
	ctx := context.Background()

	f := &types.Feature{Name: "auth", ScaleLevel: 2}
	sha, err := m.CreateFeature(ctx, f, "")
	require.NoError(t, err)
	require.NotEmpty(t, sha)

	// Working tree is clean again: everything was committed.
	clean, err := repo.IsClean(ctx)
	require.NoError(t, err)
	assert.True(t, clean)

	assert.FileExists(t, filepath.Join(repo.WorkDir(), "docs/features/auth/PRD.md"))

	got, err := store.GetFeature(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, "docs/features/auth/PRD.md", got.Metadata["filePath"])

	info, err := repo.LastCommitForPath(ctx, ".")
	require.NoError(t, err)
	assert.Equal(t, `feat(auth): create feature "auth"`, info.Message)
}

func TestCommitMessageOverride(t *testing.T) {
	m, repo, _ := setup(t)
	ctx := context.Background()

	f := &types.Feature{Name: "auth", ScaleLevel: 2}
	_, err := m.CreateFeature(ctx, f, "feat: bootstrap auth documentation")
	require.NoError(t, err)

	info, err := repo.LastCommitForPath(ctx, ".")
	require.NoError(t, err)
	assert.Equal(t, "feat: bootstrap auth documentation", info.Message)
}

func TestDirtyTreeRejected(t *testing.T) {
	m, repo, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(repo.WorkDir(), "dirty.txt"), []byte("x"), 0644))

	_, err := m.CreateFeature(ctx, &types.Feature{Name: "auth", ScaleLevel: 2}, "")
	require.ErrorIs(t, err, ErrWorkingTreeDirty)
}

func TestDatabaseFailureRollsBackFilesystem(t *testing.T) {
	m, repo, store := setup(t)
	ctx := context.Background()

	f := &types.Feature{Name: "auth", ScaleLevel: 2}
	_, err := m.CreateFeature(ctx, f, "")
	require.NoError(t, err)

	// Remove the committed tree so a second create's fs phase succeeds
	// but the db phase hits the unique constraint.
	require.NoError(t, os.RemoveAll(filepath.Join(repo.WorkDir(), "docs")))
	require.NoError(t, repo.AddAll(ctx))
	_, err = repo.Commit(ctx, "chore: drop docs", false)
	require.NoError(t, err)

	checkpoint, err := repo.Head(ctx)
	require.NoError(t, err)

	_, err = m.CreateFeature(ctx, &types.Feature{Name: "auth", ScaleLevel: 2}, "")
	require.ErrorIs(t, err, storage.ErrDuplicate)

	// The filesystem writes were rolled back to the checkpoint.
	head, err := repo.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkpoint, head)
	assert.NoFileExists(t, filepath.Join(repo.WorkDir(), "docs/features/auth/PRD.md"))

	clean, err := repo.IsClean(ctx)
	require.NoError(t, err)
	assert.True(t, clean)

	// The original row is untouched.
	_, err = store.GetFeature(ctx, "auth")
	require.NoError(t, err)
}

func TestCreateEpicAndStory(t *testing.T) {
	m, repo, store := setup(t)
	ctx := context.Background()

	_, err := m.CreateFeature(ctx, &types.Feature{Name: "auth", ScaleLevel: 3}, "")
	require.NoError(t, err)

	epic := &types.Epic{EpicNum: 1, Title: "Login Flow", Feature: "auth"}
	_, err = m.CreateEpic(ctx, epic, "")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(repo.WorkDir(),
		"docs/features/auth/epics/1-login-flow/README.md"))

	story := &types.Story{EpicNum: 1, StoryNum: 1, Title: "Session tokens"}
	_, err = m.CreateStory(ctx, story, CreateStoryOptions{
		Feature: "auth", EpicTitle: epic.Title, AutoUpdateEpic: true})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(repo.WorkDir(),
		"docs/features/auth/epics/1-login-flow/stories/story-1.1.md"))

	got, err := store.GetEpic(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalStories)

	stored, err := store.GetStory(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t,
		"docs/features/auth/epics/1-login-flow/stories/story-1.1.md",
		stored.Metadata["filePath"])
}

func TestTransitionStoryEmptyCommit(t *testing.T) {
	m, repo, store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEpic(ctx, &types.Epic{EpicNum: 1, Title: "Epic 1"}))
	require.NoError(t, store.CreateStory(ctx, &types.Story{EpicNum: 1, StoryNum: 1, Title: "s"}, true))

	_, err := m.TransitionStory(ctx, 1, 1, types.StoryStatusInProgress, "", "")
	require.NoError(t, err)

	got, err := store.GetStory(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, types.StoryStatusInProgress, got.Status)

	info, err := repo.LastCommitForPath(ctx, ".")
	require.NoError(t, err)
	assert.Equal(t, "chore(story-1.1): transition to in_progress", info.Message)

	// Illegal transitions surface the domain error and leave no commit.
	_, err = m.TransitionStory(ctx, 1, 1, types.StoryStatusTesting, "", "")
	require.NoError(t, err)
	head, _ := repo.Head(ctx)
	_, err = m.TransitionStory(ctx, 1, 1, types.StoryStatusBlocked, "reason", "")
	var terr *types.TransitionError
	require.ErrorAs(t, err, &terr)
	after, _ := repo.Head(ctx)
	assert.Equal(t, head, after, "illegal transition must not move HEAD")
}
