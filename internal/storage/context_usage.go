package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UsageRecord is one append-only row in context_usage. Cache usage rows
// populate ContextKey/CacheHit; lineage rows populate the artifact and
// document attribution columns. Both kinds carry the workflow that read
// the document and the document version that was served.
type UsageRecord struct {
	ID              int64     `json:"id"`
	ArtifactType    string    `json:"artifact_type,omitempty"`
	ArtifactID      string    `json:"artifact_id,omitempty"`
	ContextKey      string    `json:"context_key,omitempty"`
	DocumentID      string    `json:"document_id,omitempty"`
	DocumentPath    string    `json:"document_path,omitempty"`
	DocumentType    string    `json:"document_type,omitempty"`
	DocumentVersion string    `json:"document_version"`
	CacheHit        bool      `json:"cache_hit"`
	WorkflowID      string    `json:"workflow_id,omitempty"`
	WorkflowName    string    `json:"workflow_name,omitempty"`
	Epic            *int      `json:"epic,omitempty"`
	Story           *int      `json:"story,omitempty"`
	AccessedAt      time.Time `json:"accessed_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// UsageFilter narrows QueryUsage results. Zero-value fields are ignored.
type UsageFilter struct {
	ArtifactType string
	ArtifactID   string
	ContextKey   string
	DocumentID   string
	WorkflowID   string
	Epic         *int
	Story        *int
	Since        *time.Time
	Limit        int
}

// InsertUsage appends a usage record. AccessedAt defaults to now.
func (s *Store) InsertUsage(ctx context.Context, rec *UsageRecord) error {
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = time.Now().UTC()
	}
	rec.CreatedAt = time.Now().UTC()

	nullable := func(v string) any {
		if v == "" {
			return nil
		}
		return v
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO context_usage (artifact_type, artifact_id, context_key, document_id,
			document_path, document_type, document_version, cache_hit,
			workflow_id, workflow_name, epic, story, accessed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullable(rec.ArtifactType), nullable(rec.ArtifactID), nullable(rec.ContextKey),
		nullable(rec.DocumentID), nullable(rec.DocumentPath), nullable(rec.DocumentType),
		rec.DocumentVersion, rec.CacheHit, nullable(rec.WorkflowID), nullable(rec.WorkflowName),
		rec.Epic, rec.Story, rec.AccessedAt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

const usageColumns = `id, artifact_type, artifact_id, context_key, document_id, document_path, document_type, document_version, cache_hit, workflow_id, workflow_name, epic, story, accessed_at, created_at`

func scanUsage(row interface{ Scan(...any) error }) (*UsageRecord, error) {
	var r UsageRecord
	var artifactType, artifactID, contextKey, docID, docPath, docType sql.NullString
	var workflowID, workflowName sql.NullString
	var epic, story sql.NullInt64

	err := row.Scan(&r.ID, &artifactType, &artifactID, &contextKey, &docID, &docPath,
		&docType, &r.DocumentVersion, &r.CacheHit, &workflowID, &workflowName,
		&epic, &story, &r.AccessedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.ArtifactType = artifactType.String
	r.ArtifactID = artifactID.String
	r.ContextKey = contextKey.String
	r.DocumentID = docID.String
	r.DocumentPath = docPath.String
	r.DocumentType = docType.String
	r.WorkflowID = workflowID.String
	r.WorkflowName = workflowName.String
	if epic.Valid {
		v := int(epic.Int64)
		r.Epic = &v
	}
	if story.Valid {
		v := int(story.Int64)
		r.Story = &v
	}
	return &r, nil
}

// QueryUsage returns usage records matching the filter, newest access first.
func (s *Store) QueryUsage(ctx context.Context, filter UsageFilter) ([]*UsageRecord, error) {
	whereClauses := []string{}
	args := []any{}

	if filter.ArtifactType != "" {
		whereClauses = append(whereClauses, "artifact_type = ?")
		args = append(args, filter.ArtifactType)
	}
	if filter.ArtifactID != "" {
		whereClauses = append(whereClauses, "artifact_id = ?")
		args = append(args, filter.ArtifactID)
	}
	if filter.ContextKey != "" {
		whereClauses = append(whereClauses, "context_key = ?")
		args = append(args, filter.ContextKey)
	}
	if filter.DocumentID != "" {
		whereClauses = append(whereClauses, "document_id = ?")
		args = append(args, filter.DocumentID)
	}
	if filter.WorkflowID != "" {
		whereClauses = append(whereClauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Epic != nil {
		whereClauses = append(whereClauses, "epic = ?")
		args = append(args, *filter.Epic)
	}
	if filter.Story != nil {
		whereClauses = append(whereClauses, "story = ?")
		args = append(args, *filter.Story)
	}
	if filter.Since != nil {
		whereClauses = append(whereClauses, "accessed_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}
	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM context_usage %s ORDER BY accessed_at DESC%s`,
		usageColumns, whereSQL, limitSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		r, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PruneUsage removes usage rows accessed before the cutoff. olderThanDays
// <= 0 removes everything. Returns the number of removed rows.
func (s *Store) PruneUsage(ctx context.Context, olderThanDays int) (int, error) {
	var (
		res interface{ RowsAffected() (int64, error) }
		err error
	)
	if olderThanDays <= 0 {
		res, err = s.db.ExecContext(ctx, `DELETE FROM context_usage`)
	} else {
		cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
		res, err = s.db.ExecContext(ctx, `DELETE FROM context_usage WHERE accessed_at < ?`, cutoff)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// UsageVersion aggregates accesses of one content version of a key.
type UsageVersion struct {
	DocumentVersion string    `json:"document_version"`
	Accesses        int       `json:"accesses"`
	FirstAccess     time.Time `json:"first_access"`
	LastAccess      time.Time `json:"last_access"`
}

// UsageVersionHistory groups a context key's accesses by content hash,
// oldest version first.
func (s *Store) UsageVersionHistory(ctx context.Context, contextKey string) ([]*UsageVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_version, COUNT(*), MIN(accessed_at), MAX(accessed_at)
		FROM context_usage
		WHERE context_key = ?
		GROUP BY document_version
		ORDER BY MIN(accessed_at)
	`, contextKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query version history: %w", err)
	}
	defer rows.Close()

	var versions []*UsageVersion
	for rows.Next() {
		var v UsageVersion
		if err := rows.Scan(&v.DocumentVersion, &v.Accesses, &v.FirstAccess, &v.LastAccess); err != nil {
			return nil, fmt.Errorf("failed to scan version history: %w", err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// UsageHitRate computes the cache hit rate over all usage rows carrying
// a context key. Returns 0 when no rows exist.
func (s *Store) UsageHitRate(ctx context.Context) (float64, error) {
	var total, hits int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(cache_hit), 0)
		FROM context_usage WHERE context_key IS NOT NULL
	`).Scan(&total, &hits)
	if err != nil {
		return 0, fmt.Errorf("failed to compute hit rate: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(hits) / float64(total), nil
}

// UsageKeyCount aggregates accesses for one context key.
type UsageKeyCount struct {
	ContextKey string `json:"context_key"`
	Accesses   int    `json:"accesses"`
	CacheHits  int    `json:"cache_hits"`
}

// UsageCountsByKey aggregates usage rows per context key, most accessed
// first. Rows without a context key are excluded.
func (s *Store) UsageCountsByKey(ctx context.Context, limit int) ([]*UsageKeyCount, error) {
	limitSQL := ""
	if limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT context_key, COUNT(*), SUM(cache_hit)
		FROM context_usage
		WHERE context_key IS NOT NULL
		GROUP BY context_key
		ORDER BY COUNT(*) DESC`+limitSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var counts []*UsageKeyCount
	for rows.Next() {
		var c UsageKeyCount
		if err := rows.Scan(&c.ContextKey, &c.Accesses, &c.CacheHits); err != nil {
			return nil, fmt.Errorf("failed to scan usage count: %w", err)
		}
		counts = append(counts, &c)
	}
	return counts, rows.Err()
}
