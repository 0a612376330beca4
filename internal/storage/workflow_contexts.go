package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextRow is the persisted form of a workflow context: the full context
// serialized into context_data plus the indexed columns used for queries.
type ContextRow struct {
	ID           int64      `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	EpicNum      int        `json:"epic_num"`
	StoryNum     *int       `json:"story_num,omitempty"`
	Feature      string     `json:"feature,omitempty"`
	WorkflowName string     `json:"workflow_name"`
	CurrentPhase string     `json:"current_phase"`
	Status       string     `json:"status"`
	ContextData  string     `json:"context_data"`
	Version      int        `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ContextSearchFilter narrows SearchContextRows results.
type ContextSearchFilter struct {
	EpicNum      *int
	StoryNum     *int
	Feature      *string
	Status       *string
	WorkflowName *string
	Limit        int
	Offset       int
}

// ContextVersion pairs a workflow id with its current version counter.
type ContextVersion struct {
	WorkflowID string    `json:"workflow_id"`
	Version    int       `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SaveContextRow inserts or updates the row for row.WorkflowID. Versions
// start at 1 and increment on every save of an existing id. Returns the
// assigned version.
func (s *Store) SaveContextRow(ctx context.Context, row *ContextRow) (int, error) {
	start := time.Now()

	var feature any
	if row.Feature != "" {
		feature = row.Feature
	}

	var version int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO workflow_context (workflow_id, epic_num, story_num, feature,
			workflow_name, current_phase, status, context_data, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			epic_num = excluded.epic_num,
			story_num = excluded.story_num,
			feature = excluded.feature,
			workflow_name = excluded.workflow_name,
			current_phase = excluded.current_phase,
			status = excluded.status,
			context_data = excluded.context_data,
			version = workflow_context.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, row.WorkflowID, row.EpicNum, row.StoryNum, feature, row.WorkflowName,
		row.CurrentPhase, row.Status, row.ContextData, row.CreatedAt.UTC(), row.UpdatedAt.UTC()).Scan(&version)
	if err != nil {
		s.logOp("save", "workflow_context", start, err, logrus.Fields{"workflow_id": row.WorkflowID})
		return 0, fmt.Errorf("failed to save workflow context: %w", err)
	}

	row.Version = version
	s.logOp("save", "workflow_context", start, nil, logrus.Fields{
		"workflow_id": row.WorkflowID, "version": version})
	return version, nil
}

const contextColumns = `id, workflow_id, epic_num, story_num, feature, workflow_name, current_phase, status, context_data, version, created_at, updated_at`

func scanContextRow(row interface{ Scan(...any) error }) (*ContextRow, error) {
	var r ContextRow
	var storyNum sql.NullInt64
	var feature sql.NullString

	err := row.Scan(&r.ID, &r.WorkflowID, &r.EpicNum, &storyNum, &feature, &r.WorkflowName,
		&r.CurrentPhase, &r.Status, &r.ContextData, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if storyNum.Valid {
		v := int(storyNum.Int64)
		r.StoryNum = &v
	}
	if feature.Valid {
		r.Feature = feature.String
	}
	return &r, nil
}

// LoadContextRow retrieves the row for a workflow id.
func (s *Store) LoadContextRow(ctx context.Context, workflowID string) (*ContextRow, error) {
	r, err := scanContextRow(s.db.QueryRowContext(ctx,
		`SELECT `+contextColumns+` FROM workflow_context WHERE workflow_id = ?`, workflowID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow context %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow context: %w", err)
	}
	return r, nil
}

// LatestContextRow returns the most recently updated context for an epic,
// optionally narrowed to a story. Returns ErrNotFound when none exists.
func (s *Store) LatestContextRow(ctx context.Context, epicNum int, storyNum *int) (*ContextRow, error) {
	return s.latestContextRow(ctx, epicNum, storyNum, nil)
}

// LatestContextRowByStatus narrows LatestContextRow to one status.
func (s *Store) LatestContextRowByStatus(ctx context.Context, epicNum int, storyNum *int, status string) (*ContextRow, error) {
	return s.latestContextRow(ctx, epicNum, storyNum, &status)
}

func (s *Store) latestContextRow(ctx context.Context, epicNum int, storyNum *int, status *string) (*ContextRow, error) {
	whereClauses := []string{"epic_num = ?"}
	args := []any{epicNum}

	if storyNum != nil {
		whereClauses = append(whereClauses, "story_num = ?")
		args = append(args, *storyNum)
	}
	if status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, *status)
	}

	r, err := scanContextRow(s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM workflow_context WHERE %s ORDER BY updated_at DESC LIMIT 1`,
		contextColumns, strings.Join(whereClauses, " AND ")), args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow context for epic %d: %w", epicNum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest workflow context: %w", err)
	}
	return r, nil
}

// ContextRowsByEpic returns all contexts for an epic, newest first.
func (s *Store) ContextRowsByEpic(ctx context.Context, epicNum int) ([]*ContextRow, error) {
	return s.queryContextRows(ctx,
		`SELECT `+contextColumns+` FROM workflow_context WHERE epic_num = ? ORDER BY updated_at DESC`,
		epicNum)
}

// ContextRowsByFeature returns all contexts for a feature, newest first.
func (s *Store) ContextRowsByFeature(ctx context.Context, feature string) ([]*ContextRow, error) {
	return s.queryContextRows(ctx,
		`SELECT `+contextColumns+` FROM workflow_context WHERE feature = ? ORDER BY updated_at DESC`,
		feature)
}

// SearchContextRows returns contexts matching the filter with pagination.
func (s *Store) SearchContextRows(ctx context.Context, filter ContextSearchFilter) ([]*ContextRow, error) {
	whereClauses := []string{}
	args := []any{}

	if filter.EpicNum != nil {
		whereClauses = append(whereClauses, "epic_num = ?")
		args = append(args, *filter.EpicNum)
	}
	if filter.StoryNum != nil {
		whereClauses = append(whereClauses, "story_num = ?")
		args = append(args, *filter.StoryNum)
	}
	if filter.Feature != nil {
		whereClauses = append(whereClauses, "feature = ?")
		args = append(args, *filter.Feature)
	}
	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.WorkflowName != nil {
		whereClauses = append(whereClauses, "workflow_name = ?")
		args = append(args, *filter.WorkflowName)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	return s.queryContextRows(ctx, fmt.Sprintf(
		`SELECT %s FROM workflow_context %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		contextColumns, whereSQL, limit, filter.Offset), args...)
}

// ContextVersions returns version counters for an epic's contexts.
func (s *Store) ContextVersions(ctx context.Context, epicNum int, storyNum *int) ([]*ContextVersion, error) {
	whereClauses := []string{"epic_num = ?"}
	args := []any{epicNum}
	if storyNum != nil {
		whereClauses = append(whereClauses, "story_num = ?")
		args = append(args, *storyNum)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT workflow_id, version, updated_at FROM workflow_context WHERE %s ORDER BY updated_at DESC`,
		strings.Join(whereClauses, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query context versions: %w", err)
	}
	defer rows.Close()

	var versions []*ContextVersion
	for rows.Next() {
		var v ContextVersion
		if err := rows.Scan(&v.WorkflowID, &v.Version, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan context version: %w", err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

func (s *Store) queryContextRows(ctx context.Context, query string, args ...any) ([]*ContextRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow contexts: %w", err)
	}
	defer rows.Close()

	var results []*ContextRow
	for rows.Next() {
		r, err := scanContextRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow context: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
