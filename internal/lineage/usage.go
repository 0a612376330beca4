// Package lineage tracks which document versions fed which artifacts and
// workflow runs. Usage rows record cache-keyed document reads; lineage
// rows record artifact attribution. Both are append-only in the state
// store.
package lineage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/storage"
)

// UsageTracker appends and queries cache-keyed document access records.
type UsageTracker struct {
	store *storage.Store
	log   logrus.FieldLogger
}

// NewUsageTracker wires a tracker over an open store.
func NewUsageTracker(store *storage.Store, log logrus.FieldLogger) *UsageTracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &UsageTracker{store: store, log: log}
}

// Access describes one document read through the cache.
type Access struct {
	ContextKey  string
	ContentHash string
	CacheHit    bool
	WorkflowID  string
	Epic        *int
	Story       *int
}

// Record appends one usage row.
func (t *UsageTracker) Record(ctx context.Context, a Access) error {
	return t.store.InsertUsage(ctx, &storage.UsageRecord{
		ContextKey:      a.ContextKey,
		DocumentVersion: a.ContentHash,
		CacheHit:        a.CacheHit,
		WorkflowID:      a.WorkflowID,
		Epic:            a.Epic,
		Story:           a.Story,
	})
}

// History returns usage rows matching the filter, newest first.
func (t *UsageTracker) History(ctx context.Context, filter storage.UsageFilter) ([]*storage.UsageRecord, error) {
	return t.store.QueryUsage(ctx, filter)
}

// VersionHistory groups one key's accesses by content hash, oldest
// version first. A key that changed hash over time shows one row per
// version.
func (t *UsageTracker) VersionHistory(ctx context.Context, contextKey string) ([]*storage.UsageVersion, error) {
	return t.store.UsageVersionHistory(ctx, contextKey)
}

// HitRate returns the overall cache hit rate across recorded accesses.
func (t *UsageTracker) HitRate(ctx context.Context) (float64, error) {
	return t.store.UsageHitRate(ctx)
}

// TopKeys returns the most accessed context keys.
func (t *UsageTracker) TopKeys(ctx context.Context, limit int) ([]*storage.UsageKeyCount, error) {
	return t.store.UsageCountsByKey(ctx, limit)
}

// ClearHistory prunes rows older than the cutoff; olderThanDays <= 0
// clears everything.
func (t *UsageTracker) ClearHistory(ctx context.Context, olderThanDays int) (int, error) {
	n, err := t.store.PruneUsage(ctx, olderThanDays)
	if err != nil {
		return 0, err
	}
	t.log.WithFields(logrus.Fields{
		"removed": n, "older_than_days": olderThanDays,
	}).Info("pruned usage history")
	return n, nil
}

// Since builds the filter cutoff for history queries.
func Since(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(-d)
	return &t
}
