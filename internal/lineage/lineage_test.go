package lineage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gao-dev/devstate/internal/storage"
)

func testStore(t *testing.T) *storage.Store {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	s, err := storage.Open(filepath.Join(t.TempDir(), "state.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUsageTrackerRecordAndHitRate(t *testing.T) {
	s := testStore(t)
	tr := NewUsageTracker(s, nil)
	ctx := context.Background()

	epic := 1
	for i := 0; i < 4; i++ {
		err := tr.Record(ctx, Access{
			ContextKey:  "auth:1.2:story_definition",
			ContentHash: "aaaa000011112222",
			CacheHit:    i > 0,
			Epic:        &epic,
		})
		require.NoError(t, err)
	}

	rate, err := tr.HitRate(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, rate, 1e-9)

	history, err := tr.History(ctx, storage.UsageFilter{ContextKey: "auth:1.2:story_definition"})
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestUsageVersionHistory(t *testing.T) {
	s := testStore(t)
	tr := NewUsageTracker(s, nil)
	ctx := context.Background()

	// Two accesses of the old hash, one of the new.
	for _, hash := range []string{"oldhash", "oldhash", "newhash"} {
		require.NoError(t, tr.Record(ctx, Access{
			ContextKey: "auth:1:prd", ContentHash: hash}))
	}

	versions, err := tr.VersionHistory(ctx, "auth:1:prd")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "oldhash", versions[0].DocumentVersion)
	assert.Equal(t, 2, versions[0].Accesses)
	assert.Equal(t, "newhash", versions[1].DocumentVersion)
}

func TestClearHistory(t *testing.T) {
	s := testStore(t)
	tr := NewUsageTracker(s, nil)
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, Access{ContextKey: "k", ContentHash: "h"}))
	n, err := tr.ClearHistory(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	history, err := tr.History(ctx, storage.UsageFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestContextLineageHierarchyOrder(t *testing.T) {
	s := testStore(t)
	tr := NewTracker(s, nil)
	ctx := context.Background()

	// Recorded out of hierarchy order on purpose.
	for _, docType := range []string{"story", "prd", "code", "architecture", "zzz"} {
		require.NoError(t, tr.Record(ctx, Attribution{
			ArtifactType:    ArtifactCode,
			ArtifactID:      "internal/auth/login.go",
			DocumentID:      "doc-" + docType,
			DocumentType:    docType,
			DocumentVersion: "v1",
		}))
	}

	records, err := tr.ContextLineage(ctx, ArtifactCode, "internal/auth/login.go")
	require.NoError(t, err)
	require.Len(t, records, 5)

	var order []string
	for _, r := range records {
		order = append(order, r.DocumentType)
	}
	assert.Equal(t, []string{"prd", "architecture", "story", "code", "zzz"}, order)
}

func TestDetectStaleUsage(t *testing.T) {
	s := testStore(t)
	tr := NewTracker(s, nil)
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, Attribution{
		ArtifactType: ArtifactCode, ArtifactID: "a.go",
		DocumentID: "story-1.1", DocumentType: "story", DocumentVersion: "stale"}))
	require.NoError(t, tr.Record(ctx, Attribution{
		ArtifactType: ArtifactCode, ArtifactID: "b.go",
		DocumentID: "story-1.2", DocumentType: "story", DocumentVersion: "current"}))

	stale, err := tr.DetectStaleUsage(ctx, map[string]string{
		"story-1.1": "current",
		"story-1.2": "current",
	})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "a.go", stale[0].ArtifactID)

	// Unknown documents are skipped, not flagged.
	stale, err = tr.DetectStaleUsage(ctx, map[string]string{})
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestReportRendering(t *testing.T) {
	s := testStore(t)
	tr := NewTracker(s, nil)
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, Attribution{
		ArtifactType: ArtifactCode, ArtifactID: "a.go",
		DocumentID: "prd-auth", DocumentType: "prd", DocumentVersion: "abc123"}))

	records, err := tr.ArtifactContext(ctx, ArtifactCode, "a.go")
	require.NoError(t, err)

	report := &Report{Title: "Lineage for a.go", Records: records}

	md := report.Markdown()
	assert.True(t, strings.HasPrefix(md, "# Lineage for a.go"))
	assert.Contains(t, md, "| prd-auth | prd | abc123 | code:a.go |")

	out, err := report.JSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"document_id": "prd-auth"`)

	empty := &Report{Title: "Empty"}
	assert.Contains(t, empty.Markdown(), "No records.")
}
