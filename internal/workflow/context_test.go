package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gao-dev/devstate/internal/storage"
)

func TestTransformersDoNotMutateReceiver(t *testing.T) {
	c := New(1, nil, "auth", "implement-story", "design")

	c2 := c.AddDecision("db", "sqlite").
		AddArtifact("internal/auth/login.go").
		AddError("flaky test")

	assert.Empty(t, c.Decisions)
	assert.Empty(t, c.Artifacts)
	assert.Empty(t, c.Errors)

	assert.Equal(t, "sqlite", c2.Decisions["db"])
	assert.Equal(t, []string{"internal/auth/login.go"}, c2.Artifacts)
	assert.Equal(t, []string{"flaky test"}, c2.Errors)
	assert.False(t, c2.UpdatedAt.Before(c.UpdatedAt))

	// Mutating the copy's map must not leak back.
	c3 := c2.AddDecision("cache", "lru")
	c3.Decisions["db"] = "postgres"
	assert.Equal(t, "sqlite", c2.Decisions["db"])
}

func TestTransitionPhaseHistory(t *testing.T) {
	c := New(1, nil, "", "wf", "design")

	c = c.TransitionPhase("implementation")
	require.Len(t, c.PhaseHistory, 1)
	assert.Equal(t, "design", c.PhaseHistory[0].Phase)
	assert.Nil(t, c.PhaseHistory[0].DurationSeconds, "first entry has no predecessor to measure against")
	assert.Equal(t, "implementation", c.CurrentPhase)

	c = c.TransitionPhase("review")
	require.Len(t, c.PhaseHistory, 2)
	assert.Equal(t, "implementation", c.PhaseHistory[1].Phase)
	require.NotNil(t, c.PhaseHistory[1].DurationSeconds)
	assert.GreaterOrEqual(t, *c.PhaseHistory[1].DurationSeconds, 0.0)
}

func TestCopyWith(t *testing.T) {
	c := New(2, nil, "auth", "wf", "design")

	status := StatusPaused
	phase := "blocked"
	c2 := c.CopyWith(Changes{Status: &status, CurrentPhase: &phase,
		Metadata: map[string]any{"reason": "waiting"}, Tags: []string{"slow"}})

	assert.Equal(t, StatusRunning, c.Status)
	assert.Equal(t, StatusPaused, c2.Status)
	assert.Equal(t, "blocked", c2.CurrentPhase)
	assert.Equal(t, "waiting", c2.Metadata["reason"])
	assert.Equal(t, []string{"slow"}, c2.Tags)
	assert.Equal(t, c.WorkflowID, c2.WorkflowID)
}

func testPersistence(t *testing.T) *Persistence {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewPersistence(store, log)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()

	story := 2
	wc := New(1, &story, "auth", "implement-story", "design").
		AddDecision("db", "sqlite").
		TransitionPhase("implementation")

	v, err := p.Save(ctx, wc)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	loaded, version, err := p.Load(ctx, wc.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, wc.WorkflowID, loaded.WorkflowID)
	assert.Equal(t, "implementation", loaded.CurrentPhase)
	assert.Equal(t, "sqlite", loaded.Decisions["db"])
	require.NotNil(t, loaded.StoryNum)
	assert.Equal(t, 2, *loaded.StoryNum)
	require.Len(t, loaded.PhaseHistory, 1)
	assert.Equal(t, "design", loaded.PhaseHistory[0].Phase)

	// Saving the same id again bumps the version.
	v, err = p.Save(ctx, loaded.TransitionPhase("review"))
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestLoadNotFound(t *testing.T) {
	p := testPersistence(t)
	_, _, err := p.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrContextNotFound)
}

func TestLatestAndSearch(t *testing.T) {
	p := testPersistence(t)
	ctx := context.Background()

	done := New(3, nil, "auth", "wf-a", "design").WithStatus(StatusCompleted)
	_, err := p.Save(ctx, done)
	require.NoError(t, err)

	running := New(3, nil, "auth", "wf-b", "design")
	_, err = p.Save(ctx, running)
	require.NoError(t, err)

	latest, _, err := p.Latest(ctx, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, running.WorkflowID, latest.WorkflowID)

	completed, _, err := p.LatestByStatus(ctx, 3, nil, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, done.WorkflowID, completed.WorkflowID)

	byEpic, err := p.ByEpic(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, byEpic, 2)

	byFeature, err := p.ByFeature(ctx, "auth")
	require.NoError(t, err)
	assert.Len(t, byFeature, 2)

	status := StatusCompleted
	found, err := p.Search(ctx, SearchFilter{Status: &status}, 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, done.WorkflowID, found[0].WorkflowID)

	versions, err := p.Versions(ctx, 3, nil)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	_, _, err = p.Latest(ctx, 99, nil)
	assert.ErrorIs(t, err, ErrContextNotFound)
}
