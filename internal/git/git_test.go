package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gao-dev/devstate/internal/types"
)

func initRepo(t *testing.T) *Repo {
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

	r, err := New(context.Background(), dir)
	require.NoError(t, err)

	// An initial commit so HEAD resolves.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0644))
	require.NoError(t, r.AddAll(context.Background()))
	_, err = r.Commit(context.Background(), "chore: initial commit", false)
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, r *Repo, rel, body string) {
	t.Helper()
	abs := filepath.Join(r.WorkDir(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(body), 0644))
}

func TestStatusAndIsClean(t *testing.T) {
	r := initRepo(t)
	ctx := context.Background()

	clean, err := r.IsClean(ctx)
	require.NoError(t, err)
	assert.True(t, clean)

	writeFile(t, r, "docs/note.md", "hello")
	clean, err = r.IsClean(ctx)
	require.NoError(t, err)
	assert.False(t, clean)

	st, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/note.md"}, st.Untracked)
}

func TestCommitAndResetHard(t *testing.T) {
	r := initRepo(t)
	ctx := context.Background()

	checkpoint, err := r.Head(ctx)
	require.NoError(t, err)

	writeFile(t, r, "a.txt", "1")
	require.NoError(t, r.AddAll(ctx))
	sha, err := r.Commit(ctx, "feat(a): add a", false)
	require.NoError(t, err)
	assert.NotEqual(t, checkpoint, sha)

	// Untracked files are cleaned by the hard reset too.
	writeFile(t, r, "b.txt", "2")
	require.NoError(t, r.ResetHard(ctx, checkpoint))

	head, err := r.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkpoint, head)
	assert.NoFileExists(t, filepath.Join(r.WorkDir(), "a.txt"))
	assert.NoFileExists(t, filepath.Join(r.WorkDir(), "b.txt"))
}

func TestEmptyCommit(t *testing.T) {
	r := initRepo(t)
	ctx := context.Background()

	_, err := r.Commit(ctx, "chore(story-1.1): transition to completed", true)
	require.NoError(t, err)

	info, err := r.LastCommitForPath(ctx, ".")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "chore(story-1.1): transition to completed", info.Message)
}

func TestBranchLifecycle(t *testing.T) {
	r := initRepo(t)
	ctx := context.Background()

	require.NoError(t, r.CreateBranch(ctx, "migration/hybrid-architecture", true))
	branch, err := r.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "migration/hybrid-architecture", branch)
	assert.True(t, r.BranchExists(ctx, "migration/hybrid-architecture"))

	writeFile(t, r, "m.txt", "x")
	require.NoError(t, r.AddAll(ctx))
	_, err = r.Commit(ctx, "chore(migration): phase 1", false)
	require.NoError(t, err)

	require.NoError(t, r.Checkout(ctx, "main"))
	require.NoError(t, r.Merge(ctx, "migration/hybrid-architecture", true, "chore(migration): merge"))
	assert.FileExists(t, filepath.Join(r.WorkDir(), "m.txt"))

	require.NoError(t, r.DeleteBranch(ctx, "migration/hybrid-architecture", true))
	assert.False(t, r.BranchExists(ctx, "migration/hybrid-architecture"))
}

func TestLastCommitForPath(t *testing.T) {
	r := initRepo(t)
	ctx := context.Background()

	info, err := r.LastCommitForPath(ctx, "docs/stories/story-1.1.md")
	require.NoError(t, err)
	assert.Nil(t, info, "expected nil for a path with no history")

	writeFile(t, r, "docs/stories/story-1.1.md", "# Story 1.1")
	require.NoError(t, r.AddAll(ctx))
	sha, err := r.Commit(ctx, "feat(story-1.1): create login story", false)
	require.NoError(t, err)

	info, err = r.LastCommitForPath(ctx, "docs/stories/story-1.1.md")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, sha, info.SHA)
	assert.Equal(t, "feat(story-1.1): create login story", info.Message)
}

func TestFileDeletedInHistory(t *testing.T) {
	r := initRepo(t)
	ctx := context.Background()

	writeFile(t, r, "gone.md", "x")
	require.NoError(t, r.AddAll(ctx))
	_, err := r.Commit(ctx, "feat: add gone", false)
	require.NoError(t, err)

	deleted, err := r.FileDeletedInHistory(ctx, "gone.md")
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, os.Remove(filepath.Join(r.WorkDir(), "gone.md")))
	require.NoError(t, r.AddAll(ctx))
	_, err = r.Commit(ctx, "chore: remove gone", false)
	require.NoError(t, err)

	deleted, err = r.FileDeletedInHistory(ctx, "gone.md")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestMessageRender(t *testing.T) {
	m := Message{Type: CommitFeat, Scope: StoryScope(1, 2), Subject: "create Login endpoint"}
	assert.Equal(t, "feat(story-1.2): create Login endpoint", m.Render())

	m.Body = "details"
	assert.Equal(t, "feat(story-1.2): create Login endpoint\n\ndetails", m.Render())
	assert.Equal(t, "epic-3", EpicScope(3))
}

func TestInferStoryStatus(t *testing.T) {
	tests := []struct {
		message string
		want    types.StoryStatus
	}{
		{"feat(story-1.2): create Login endpoint", types.StoryStatusCompleted},
		{"mark story done", types.StoryStatusCompleted},
		{"Finished the work", types.StoryStatusCompleted},
		{"wip: half way", types.StoryStatusInProgress},
		{"chore(story-1.2): tidy", types.StoryStatusInProgress},
		{"still working on it", types.StoryStatusInProgress},
		{"update readme", types.StoryStatusPending},
		{"", types.StoryStatusPending},
		// Completion keywords win over progress keywords.
		{"wip but almost complete", types.StoryStatusCompleted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferStoryStatus(tt.message), "message %q", tt.message)
	}
}
