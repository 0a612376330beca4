package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/types"
)

// EpicProgressUpdate carries the optional fields of an UpdateEpicProgress
// call. Nil fields are left unchanged; progress_percentage is always
// recomputed from the resulting counts.
type EpicProgressUpdate struct {
	TotalStories     *int
	CompletedStories *int
	Status           *types.EpicStatus
}

// CreateEpic inserts a new epic. Duplicate epic numbers surface ErrDuplicate.
func (s *Store) CreateEpic(ctx context.Context, epic *types.Epic) error {
	start := time.Now()

	if epic.Status == "" {
		epic.Status = types.EpicStatusPlanning
	}
	if err := epic.Validate(); err != nil {
		return err
	}

	meta, err := marshalMetadata(epic.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	epic.CreatedAt = now
	epic.UpdatedAt = now
	epic.ProgressPercentage = types.Progress(epic.CompletedStories, epic.TotalStories)

	var feature any
	if epic.Feature != "" {
		feature = epic.Feature
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO epic_state (epic_num, title, status, total_stories, completed_stories,
			progress_percentage, feature, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, epic.EpicNum, epic.Title, epic.Status, epic.TotalStories, epic.CompletedStories,
		epic.ProgressPercentage, feature, meta, epic.CreatedAt, epic.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("epic %d: %w", epic.EpicNum, ErrDuplicate)
		}
		s.logOp("create", "epic", start, err, logrus.Fields{"epic_num": epic.EpicNum})
		return err
	}

	s.logOp("create", "epic", start, nil, logrus.Fields{"epic_num": epic.EpicNum})
	return nil
}

const epicColumns = `epic_num, title, status, total_stories, completed_stories, progress_percentage, feature, metadata, created_at, updated_at`

func scanEpic(row interface{ Scan(...any) error }) (*types.Epic, error) {
	var e types.Epic
	var feature sql.NullString
	var meta string

	err := row.Scan(&e.EpicNum, &e.Title, &e.Status, &e.TotalStories, &e.CompletedStories,
		&e.ProgressPercentage, &feature, &meta, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if feature.Valid {
		e.Feature = feature.String
	}
	e.Metadata, err = unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEpic retrieves an epic by number. Returns ErrNotFound when missing.
func (s *Store) GetEpic(ctx context.Context, epicNum int) (*types.Epic, error) {
	e, err := scanEpic(s.db.QueryRowContext(ctx,
		`SELECT `+epicColumns+` FROM epic_state WHERE epic_num = ?`, epicNum))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("epic %d: %w", epicNum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get epic: %w", err)
	}
	return e, nil
}

// ListEpics returns epics matching the filter, ordered by epic number.
func (s *Store) ListEpics(ctx context.Context, filter types.EpicFilter) ([]*types.Epic, error) {
	whereClauses := []string{}
	args := []any{}

	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Feature != nil {
		whereClauses = append(whereClauses, "feature = ?")
		args = append(args, *filter.Feature)
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
		`SELECT %s FROM epic_state %s ORDER BY epic_num%s`, epicColumns, whereSQL, limitSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list epics: %w", err)
	}
	defer rows.Close()

	var epics []*types.Epic
	for rows.Next() {
		e, err := scanEpic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan epic: %w", err)
		}
		epics = append(epics, e)
	}
	return epics, rows.Err()
}

// UpdateEpicProgress applies the update and recomputes progress_percentage.
func (s *Store) UpdateEpicProgress(ctx context.Context, epicNum int, update EpicProgressUpdate) (*types.Epic, error) {
	start := time.Now()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Close()

	epic, err := updateEpicProgressTx(ctx, tx.conn, epicNum, update)
	if err != nil {
		s.logOp("update_progress", "epic", start, err, logrus.Fields{"epic_num": epicNum})
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logOp("update_progress", "epic", start, nil, logrus.Fields{
		"epic_num": epicNum, "progress": epic.ProgressPercentage})
	return epic, nil
}

// updateEpicProgressTx is the transactional core of UpdateEpicProgress,
// shared with the cross-entity story operations.
func updateEpicProgressTx(ctx context.Context, conn *sql.Conn, epicNum int, update EpicProgressUpdate) (*types.Epic, error) {
	e, err := scanEpic(conn.QueryRowContext(ctx,
		`SELECT `+epicColumns+` FROM epic_state WHERE epic_num = ?`, epicNum))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("epic %d: %w", epicNum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get epic: %w", err)
	}

	if update.TotalStories != nil {
		e.TotalStories = *update.TotalStories
	}
	if update.CompletedStories != nil {
		e.CompletedStories = *update.CompletedStories
	}
	if update.Status != nil {
		if !update.Status.IsValid() {
			return nil, &types.ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status: %s", *update.Status)}
		}
		if e.Status != *update.Status && !e.Status.CanTransitionTo(*update.Status) {
			return nil, &types.TransitionError{Entity: "epic", From: string(e.Status), To: string(*update.Status)}
		}
		e.Status = *update.Status
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}

	e.ProgressPercentage = types.Progress(e.CompletedStories, e.TotalStories)
	e.UpdatedAt = time.Now().UTC()

	_, err = conn.ExecContext(ctx, `
		UPDATE epic_state
		SET total_stories = ?, completed_stories = ?, progress_percentage = ?, status = ?, updated_at = ?
		WHERE epic_num = ?
	`, e.TotalStories, e.CompletedStories, e.ProgressPercentage, e.Status, e.UpdatedAt, epicNum)
	if err != nil {
		return nil, fmt.Errorf("failed to update epic progress: %w", err)
	}

	return e, nil
}

// DeleteEpic removes an epic row. Used by consistency repair only.
func (s *Store) DeleteEpic(ctx context.Context, epicNum int) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM epic_state WHERE epic_num = ?`, epicNum)
	if err != nil {
		s.logOp("delete", "epic", start, err, logrus.Fields{"epic_num": epicNum})
		return fmt.Errorf("failed to delete epic: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("epic %d: %w", epicNum, ErrNotFound)
	}
	s.logOp("delete", "epic", start, nil, logrus.Fields{"epic_num": epicNum})
	return nil
}
