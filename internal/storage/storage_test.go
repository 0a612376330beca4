package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	s, err := Open(filepath.Join(t.TempDir(), "state.db"), log)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Re-running against an initialized database must be a no-op.
	if err := s.applyMigrations(ctx); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}

	applied, err := s.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("failed to list migrations: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("expected %d applied migrations, got %d", len(migrations), len(applied))
	}
}

func TestFeatureLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	f := &types.Feature{Name: "user-auth", ScaleLevel: 2}
	if err := s.CreateFeature(ctx, f); err != nil {
		t.Fatalf("failed to create feature: %v", err)
	}
	if f.ID == 0 {
		t.Fatal("expected feature id to be assigned")
	}
	if f.Status != types.FeatureStatusPlanning {
		t.Errorf("expected default status planning, got %s", f.Status)
	}

	// Duplicate name is rejected.
	err := s.CreateFeature(ctx, &types.Feature{Name: "user-auth"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	if _, err := s.TransitionFeature(ctx, "user-auth", types.FeatureStatusActive); err != nil {
		t.Fatalf("failed to transition to active: %v", err)
	}

	// planning -> complete is not a legal edge.
	f2 := &types.Feature{Name: "other"}
	if err := s.CreateFeature(ctx, f2); err != nil {
		t.Fatalf("failed to create feature: %v", err)
	}
	_, err = s.TransitionFeature(ctx, "other", types.FeatureStatusComplete)
	var terr *types.TransitionError
	if !errors.As(err, &terr) {
		t.Errorf("expected TransitionError, got %v", err)
	}

	// completed_at is set by trigger on completion and cleared on reopen.
	got, err := s.TransitionFeature(ctx, "user-auth", types.FeatureStatusComplete)
	if err != nil {
		t.Fatalf("failed to complete feature: %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set after completion")
	}

	if _, err := s.TransitionFeature(ctx, "user-auth", types.FeatureStatusActive); err != nil {
		t.Fatalf("failed to reopen feature: %v", err)
	}
	got, _ = s.GetFeature(ctx, "user-auth")
	if got.CompletedAt != nil {
		t.Error("expected completed_at cleared after reopen")
	}
}

func TestFeatureAuditTrail(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	f := &types.Feature{Name: "payments"}
	if err := s.CreateFeature(ctx, f); err != nil {
		t.Fatalf("failed to create feature: %v", err)
	}
	if _, err := s.TransitionFeature(ctx, "payments", types.FeatureStatusActive); err != nil {
		t.Fatalf("failed to transition feature: %v", err)
	}
	if err := s.DeleteFeature(ctx, "payments"); err != nil {
		t.Fatalf("failed to delete feature: %v", err)
	}

	trail, err := s.FeatureAuditTrail(ctx, f.ID)
	if err != nil {
		t.Fatalf("failed to read audit trail: %v", err)
	}
	// INSERT + UPDATE + DELETE survive the row deletion.
	if len(trail) < 3 {
		t.Fatalf("expected at least 3 audit rows, got %d", len(trail))
	}
	last := trail[len(trail)-1]
	if last.Operation != types.AuditDelete {
		t.Errorf("expected final audit op DELETE, got %s", last.Operation)
	}
	if last.OldValue == nil || *last.OldValue == "" {
		t.Error("expected DELETE audit row to capture old value")
	}
}

func TestStoryCompletionRollsUpEpic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	epic := &types.Epic{EpicNum: 1, Title: "Epic 1"}
	if err := s.CreateEpic(ctx, epic); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}

	for i := 1; i <= 2; i++ {
		story := &types.Story{EpicNum: 1, StoryNum: i, Title: "story"}
		if err := s.CreateStory(ctx, story, true); err != nil {
			t.Fatalf("failed to create story %d: %v", i, err)
		}
	}

	epic, err := s.GetEpic(ctx, 1)
	if err != nil {
		t.Fatalf("failed to get epic: %v", err)
	}
	if epic.TotalStories != 2 {
		t.Errorf("expected total_stories 2, got %d", epic.TotalStories)
	}

	// First completion moves the epic planning -> in_progress.
	_, epic, err = s.CompleteStory(ctx, 1, 1, nil, true)
	if err != nil {
		t.Fatalf("failed to complete story 1.1: %v", err)
	}
	if epic.Status != types.EpicStatusInProgress {
		t.Errorf("expected epic in_progress, got %s", epic.Status)
	}
	if epic.CompletedStories != 1 {
		t.Errorf("expected completed_stories 1, got %d", epic.CompletedStories)
	}
	if epic.ProgressPercentage != 50 {
		t.Errorf("expected progress 50, got %v", epic.ProgressPercentage)
	}

	// Last completion moves the epic to completed.
	hours := 3.5
	story, epic, err := s.CompleteStory(ctx, 1, 2, &hours, true)
	if err != nil {
		t.Fatalf("failed to complete story 1.2: %v", err)
	}
	if story.ActualHours == nil || *story.ActualHours != 3.5 {
		t.Errorf("expected actual_hours 3.5, got %v", story.ActualHours)
	}
	if epic.Status != types.EpicStatusCompleted {
		t.Errorf("expected epic completed, got %s", epic.Status)
	}
	if epic.ProgressPercentage != 100 {
		t.Errorf("expected progress 100, got %v", epic.ProgressPercentage)
	}

	// Completing an already-completed story is rejected by the transition map.
	_, _, err = s.CompleteStory(ctx, 1, 2, nil, true)
	if err == nil {
		t.Error("expected error re-completing a completed story")
	}
}

func TestStoryBlockedRequiresReason(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateEpic(ctx, &types.Epic{EpicNum: 1, Title: "Epic 1"}); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}
	story := &types.Story{EpicNum: 1, StoryNum: 1, Title: "story"}
	if err := s.CreateStory(ctx, story, true); err != nil {
		t.Fatalf("failed to create story: %v", err)
	}

	if _, err := s.TransitionStory(ctx, 1, 1, types.StoryStatusBlocked, ""); err == nil {
		t.Error("expected error blocking without a reason")
	}

	got, err := s.TransitionStory(ctx, 1, 1, types.StoryStatusBlocked, "waiting on API keys")
	if err != nil {
		t.Fatalf("failed to block story: %v", err)
	}
	if got.BlockedReason != "waiting on API keys" {
		t.Errorf("unexpected blocked_reason %q", got.BlockedReason)
	}

	// Reason is cleared when leaving blocked.
	got, err = s.TransitionStory(ctx, 1, 1, types.StoryStatusInProgress, "")
	if err != nil {
		t.Fatalf("failed to unblock story: %v", err)
	}
	if got.BlockedReason != "" {
		t.Errorf("expected blocked_reason cleared, got %q", got.BlockedReason)
	}
}

func TestForceStoryStatusRestoresBlockedReason(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateEpic(ctx, &types.Epic{EpicNum: 1, Title: "Epic 1"}); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}
	story := &types.Story{EpicNum: 1, StoryNum: 1, Title: "story"}
	if err := s.CreateStory(ctx, story, true); err != nil {
		t.Fatalf("failed to create story: %v", err)
	}

	// Block, then leave blocked: the transition clears the reason.
	if _, err := s.TransitionStory(ctx, 1, 1, types.StoryStatusBlocked, "waiting on API keys"); err != nil {
		t.Fatalf("failed to block story: %v", err)
	}
	if _, err := s.TransitionStory(ctx, 1, 1, types.StoryStatusInProgress, ""); err != nil {
		t.Fatalf("failed to unblock story: %v", err)
	}

	// Forcing back to blocked must carry the reason with it, so a
	// rolled-back story never sits blocked with no reason.
	if err := s.ForceStoryStatus(ctx, 1, 1, types.StoryStatusBlocked, "waiting on API keys"); err != nil {
		t.Fatalf("failed to force status: %v", err)
	}
	got, err := s.GetStory(ctx, 1, 1)
	if err != nil {
		t.Fatalf("failed to get story: %v", err)
	}
	if got.Status != types.StoryStatusBlocked {
		t.Errorf("expected blocked status, got %s", got.Status)
	}
	if got.BlockedReason != "waiting on API keys" {
		t.Errorf("expected blocked_reason restored, got %q", got.BlockedReason)
	}

	if err := s.ForceStoryStatus(ctx, 1, 1, types.StoryStatusBlocked, ""); err == nil {
		t.Error("expected error forcing blocked without a reason")
	}

	// Forcing a non-blocked status clears the reason again.
	if err := s.ForceStoryStatus(ctx, 1, 1, types.StoryStatusInProgress, ""); err != nil {
		t.Fatalf("failed to force status: %v", err)
	}
	got, err = s.GetStory(ctx, 1, 1)
	if err != nil {
		t.Fatalf("failed to get story: %v", err)
	}
	if got.BlockedReason != "" {
		t.Errorf("expected blocked_reason cleared, got %q", got.BlockedReason)
	}
}

func TestPromoteActionItem(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateEpic(ctx, &types.Epic{EpicNum: 3, Title: "Epic 3"}); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}

	epicNum := 3
	item := &types.ActionItem{
		Title:    "fix flaky migration",
		Priority: types.ActionPriorityCritical,
		EpicNum:  &epicNum,
	}
	if err := s.CreateActionItem(ctx, item); err != nil {
		t.Fatalf("failed to create action item: %v", err)
	}

	// Non-critical items cannot be promoted.
	low := &types.ActionItem{Title: "tidy docs", Priority: types.ActionPriorityLow, EpicNum: &epicNum}
	if err := s.CreateActionItem(ctx, low); err != nil {
		t.Fatalf("failed to create action item: %v", err)
	}
	if _, err := s.PromoteActionItem(ctx, low.ID, 10, false); err == nil {
		t.Error("expected error promoting non-critical item")
	}

	story, err := s.PromoteActionItem(ctx, item.ID, 10, false)
	if err != nil {
		t.Fatalf("failed to promote action item: %v", err)
	}
	if story.Priority != types.PriorityP0 {
		t.Errorf("expected promoted story at P0, got %s", story.Priority)
	}
	if story.Metadata["promoted_from"] != item.ID {
		t.Errorf("expected promoted_from metadata, got %v", story.Metadata)
	}

	got, _ := s.GetActionItem(ctx, item.ID)
	if got.Status != types.ActionStatusCompleted {
		t.Errorf("expected promoted item completed, got %s", got.Status)
	}

	// Second promotion into the same epic hits the limit unless forced.
	second := &types.ActionItem{Title: "another", Priority: types.ActionPriorityCritical, EpicNum: &epicNum}
	if err := s.CreateActionItem(ctx, second); err != nil {
		t.Fatalf("failed to create action item: %v", err)
	}
	_, err = s.PromoteActionItem(ctx, second.ID, 11, false)
	if !errors.Is(err, ErrPromotionLimit) {
		t.Errorf("expected ErrPromotionLimit, got %v", err)
	}
	if _, err := s.PromoteActionItem(ctx, second.ID, 11, true); err != nil {
		t.Errorf("forced promotion failed: %v", err)
	}
}

func TestActionItemCleanup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	item := &types.ActionItem{Title: "stale"}
	if err := s.CreateActionItem(ctx, item); err != nil {
		t.Fatalf("failed to create action item: %v", err)
	}
	if err := s.CompleteActionItem(ctx, item.ID); err != nil {
		t.Fatalf("failed to complete action item: %v", err)
	}

	// Backdate the completion so the cutoff catches it.
	old := time.Now().UTC().AddDate(0, 0, -40)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE action_items SET updated_at = ? WHERE id = ?`, old, item.ID); err != nil {
		t.Fatalf("failed to backdate item: %v", err)
	}

	n, err := s.CleanupActionItems(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 removed item, got %d", n)
	}
	if _, err := s.GetActionItem(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after cleanup, got %v", err)
	}
}

func TestLearningSupersede(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	older := &types.Learning{Topic: "sqlite locking", Category: types.LearningTechnical, Learning: "use IMMEDIATE", RelevanceScore: 0.8}
	newer := &types.Learning{Topic: "sqlite locking", Category: types.LearningTechnical, Learning: "use IMMEDIATE + busy_timeout", RelevanceScore: 0.9}
	if err := s.CreateLearning(ctx, older); err != nil {
		t.Fatalf("failed to create learning: %v", err)
	}
	if err := s.CreateLearning(ctx, newer); err != nil {
		t.Fatalf("failed to create learning: %v", err)
	}

	if err := s.SupersedeLearning(ctx, older.ID, newer.ID); err != nil {
		t.Fatalf("failed to supersede: %v", err)
	}

	got, err := s.GetLearning(ctx, older.ID)
	if err != nil {
		t.Fatalf("failed to get learning: %v", err)
	}
	if got.IsActive {
		t.Error("expected superseded learning inactive")
	}
	if got.SupersededBy != newer.ID {
		t.Errorf("expected superseded_by %s, got %s", newer.ID, got.SupersededBy)
	}

	active, err := s.ListLearnings(ctx, nil, true, 0)
	if err != nil {
		t.Fatalf("failed to list learnings: %v", err)
	}
	if len(active) != 1 || active[0].ID != newer.ID {
		t.Errorf("expected only the superseding learning active, got %d rows", len(active))
	}

	// Superseding with an unknown id is rejected.
	if err := s.SupersedeLearning(ctx, newer.ID, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWorkflowContextVersioning(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	row := &ContextRow{
		WorkflowID:   "wf-epic2-story1",
		EpicNum:      2,
		WorkflowName: "implement-story",
		CurrentPhase: "design",
		Status:       "running",
		ContextData:  `{"decisions":[]}`,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	v, err := s.SaveContextRow(ctx, row)
	if err != nil {
		t.Fatalf("failed to save context: %v", err)
	}
	if v != 1 {
		t.Errorf("expected version 1 on first save, got %d", v)
	}

	// Every save of the same workflow id bumps the version.
	row.CurrentPhase = "implementation"
	row.UpdatedAt = time.Now().UTC()
	for want := 2; want <= 4; want++ {
		v, err = s.SaveContextRow(ctx, row)
		if err != nil {
			t.Fatalf("failed to re-save context: %v", err)
		}
		if v != want {
			t.Errorf("expected version %d, got %d", want, v)
		}
	}

	loaded, err := s.LoadContextRow(ctx, "wf-epic2-story1")
	if err != nil {
		t.Fatalf("failed to load context: %v", err)
	}
	if loaded.Version != 4 || loaded.CurrentPhase != "implementation" {
		t.Errorf("unexpected loaded row: version=%d phase=%s", loaded.Version, loaded.CurrentPhase)
	}

	if _, err := s.LoadContextRow(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestContextRowByStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, status := range []string{"completed", "running"} {
		row := &ContextRow{
			WorkflowID:   "wf-" + status,
			EpicNum:      5,
			WorkflowName: "implement-story",
			CurrentPhase: "design",
			Status:       status,
			ContextData:  "{}",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := s.SaveContextRow(ctx, row); err != nil {
			t.Fatalf("failed to save context: %v", err)
		}
	}

	latest, err := s.LatestContextRow(ctx, 5, nil)
	if err != nil {
		t.Fatalf("failed to query latest: %v", err)
	}
	if latest.WorkflowID != "wf-running" {
		t.Errorf("expected wf-running, got %s", latest.WorkflowID)
	}

	completed, err := s.LatestContextRowByStatus(ctx, 5, nil, "completed")
	if err != nil {
		t.Fatalf("failed to query by status: %v", err)
	}
	if completed.WorkflowID != "wf-completed" {
		t.Errorf("expected wf-completed, got %s", completed.WorkflowID)
	}

	if _, err := s.LatestContextRow(ctx, 99, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown epic, got %v", err)
	}
}

func TestUsageRecords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	epic := 1
	for i := 0; i < 3; i++ {
		rec := &UsageRecord{
			ContextKey:      "auth:1.2:story_definition",
			DocumentVersion: "abc123",
			CacheHit:        i > 0,
			WorkflowID:      "wf-1",
			Epic:            &epic,
		}
		if err := s.InsertUsage(ctx, rec); err != nil {
			t.Fatalf("failed to insert usage: %v", err)
		}
	}

	lineage := &UsageRecord{
		ArtifactType:    "code",
		ArtifactID:      "internal/auth/login.go",
		DocumentID:      "story-1.2",
		DocumentPath:    "docs/epics/epic-1/story-1.2.md",
		DocumentType:    "story",
		DocumentVersion: "abc123",
		Epic:            &epic,
	}
	if err := s.InsertUsage(ctx, lineage); err != nil {
		t.Fatalf("failed to insert lineage record: %v", err)
	}

	byKey, err := s.QueryUsage(ctx, UsageFilter{ContextKey: "auth:1.2:story_definition"})
	if err != nil {
		t.Fatalf("failed to query usage: %v", err)
	}
	if len(byKey) != 3 {
		t.Errorf("expected 3 usage rows, got %d", len(byKey))
	}

	byArtifact, err := s.QueryUsage(ctx, UsageFilter{ArtifactType: "code", ArtifactID: "internal/auth/login.go"})
	if err != nil {
		t.Fatalf("failed to query lineage: %v", err)
	}
	if len(byArtifact) != 1 {
		t.Fatalf("expected 1 lineage row, got %d", len(byArtifact))
	}
	if byArtifact[0].DocumentType != "story" {
		t.Errorf("unexpected document type %s", byArtifact[0].DocumentType)
	}

	counts, err := s.UsageCountsByKey(ctx, 10)
	if err != nil {
		t.Fatalf("failed to aggregate usage: %v", err)
	}
	if len(counts) != 1 || counts[0].Accesses != 3 || counts[0].CacheHits != 2 {
		t.Errorf("unexpected aggregation: %+v", counts)
	}
}
