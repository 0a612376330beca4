package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/types"
)

// ErrPromotionLimit is returned when an epic already has a promoted action
// item and the promotion is not forced.
var ErrPromotionLimit = fmt.Errorf("epic already has a promoted action item")

// CreateActionItem inserts a new action item, generating an id when unset.
func (s *Store) CreateActionItem(ctx context.Context, item *types.ActionItem) error {
	start := time.Now()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Priority == "" {
		item.Priority = types.ActionPriorityMedium
	}
	if item.Status == "" {
		item.Status = types.ActionStatusPending
	}
	if err := item.Validate(); err != nil {
		return err
	}

	meta, err := marshalMetadata(item.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	var assignee any
	if item.Assignee != "" {
		assignee = item.Assignee
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_items (id, title, description, priority, status, epic_num,
			story_num, assignee, due_date, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Title, item.Description, item.Priority, item.Status,
		item.EpicNum, item.StoryNum, assignee, item.DueDate, item.CreatedAt, item.UpdatedAt, meta)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("action item %s: %w", item.ID, ErrDuplicate)
		}
		s.logOp("create", "action_item", start, err, logrus.Fields{"id": item.ID})
		return err
	}

	s.logOp("create", "action_item", start, nil, logrus.Fields{"id": item.ID})
	return nil
}

const actionItemColumns = `id, title, description, priority, status, epic_num, story_num, assignee, due_date, promoted_story_num, created_at, updated_at, metadata`

func scanActionItem(row interface{ Scan(...any) error }) (*types.ActionItem, error) {
	var a types.ActionItem
	var epicNum, storyNum, promoted sql.NullInt64
	var assignee sql.NullString
	var dueDate sql.NullTime
	var meta string

	err := row.Scan(&a.ID, &a.Title, &a.Description, &a.Priority, &a.Status,
		&epicNum, &storyNum, &assignee, &dueDate, &promoted, &a.CreatedAt, &a.UpdatedAt, &meta)
	if err != nil {
		return nil, err
	}

	if epicNum.Valid {
		v := int(epicNum.Int64)
		a.EpicNum = &v
	}
	if storyNum.Valid {
		v := int(storyNum.Int64)
		a.StoryNum = &v
	}
	if assignee.Valid {
		a.Assignee = assignee.String
	}
	if dueDate.Valid {
		t := dueDate.Time
		a.DueDate = &t
	}
	if promoted.Valid {
		if a.Metadata == nil {
			a.Metadata = map[string]any{}
		}
		a.Metadata["promoted_story_num"] = int(promoted.Int64)
	}
	parsed, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	for k, v := range parsed {
		if a.Metadata == nil {
			a.Metadata = map[string]any{}
		}
		a.Metadata[k] = v
	}
	return &a, nil
}

// GetActionItem retrieves an action item by id.
func (s *Store) GetActionItem(ctx context.Context, id string) (*types.ActionItem, error) {
	a, err := scanActionItem(s.db.QueryRowContext(ctx,
		`SELECT `+actionItemColumns+` FROM action_items WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("action item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action item: %w", err)
	}
	return a, nil
}

// ListActionItems returns items matching the filter, newest first.
func (s *Store) ListActionItems(ctx context.Context, filter types.ActionItemFilter) ([]*types.ActionItem, error) {
	whereClauses := []string{}
	args := []any{}

	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Priority != nil {
		whereClauses = append(whereClauses, "priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.EpicNum != nil {
		whereClauses = append(whereClauses, "epic_num = ?")
		args = append(args, *filter.EpicNum)
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
		`SELECT %s FROM action_items %s ORDER BY created_at DESC%s`,
		actionItemColumns, whereSQL, limitSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list action items: %w", err)
	}
	defer rows.Close()

	var items []*types.ActionItem
	for rows.Next() {
		a, err := scanActionItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action item: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// CompleteActionItem marks an item completed.
func (s *Store) CompleteActionItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE action_items SET status = ?, updated_at = ? WHERE id = ?
	`, types.ActionStatusCompleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete action item: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("action item %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeferActionItem pushes an item's due date out.
func (s *Store) DeferActionItem(ctx context.Context, id string, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE action_items SET due_date = ?, updated_at = ? WHERE id = ?
	`, until.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to defer action item: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("action item %s: %w", id, ErrNotFound)
	}
	return nil
}

// CleanupActionItems removes completed items older than olderThanDays.
// Returns the number of removed rows.
func (s *Store) CleanupActionItems(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM action_items WHERE status = ? AND updated_at < ?
	`, types.ActionStatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup action items: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// PromoteActionItem converts a critical action item into a story under its
// epic. Each epic allows one promotion; force bypasses the limit but the
// promotion still counts toward it.
func (s *Store) PromoteActionItem(ctx context.Context, id string, storyNum int, force bool) (*types.Story, error) {
	start := time.Now()

	item, err := s.GetActionItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Priority != types.ActionPriorityCritical {
		return nil, &types.ValidationError{Field: "priority", Reason: "only critical action items can be promoted"}
	}
	if item.EpicNum == nil {
		return nil, &types.ValidationError{Field: "epic_num", Reason: "action item has no epic to promote into"}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Close()

	if !force {
		var promoted int
		err = tx.conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM action_items
			WHERE epic_num = ? AND promoted_story_num IS NOT NULL
		`, *item.EpicNum).Scan(&promoted)
		if err != nil {
			return nil, fmt.Errorf("failed to count promotions: %w", err)
		}
		if promoted > 0 {
			return nil, fmt.Errorf("epic %d: %w", *item.EpicNum, ErrPromotionLimit)
		}
	}

	now := time.Now().UTC()
	story := &types.Story{
		EpicNum:  *item.EpicNum,
		StoryNum: storyNum,
		Title:    item.Title,
		Status:   types.StoryStatusPending,
		Priority: types.PriorityP0,
		Assignee: item.Assignee,
		Metadata: map[string]any{"promoted_from": item.ID},
	}
	if err := story.Validate(); err != nil {
		return nil, err
	}

	meta, err := marshalMetadata(story.Metadata)
	if err != nil {
		return nil, err
	}

	var assignee any
	if story.Assignee != "" {
		assignee = story.Assignee
	}

	res, err := tx.conn.ExecContext(ctx, `
		INSERT INTO story_state (epic_num, story_num, title, status, assignee, priority,
			metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, story.EpicNum, story.StoryNum, story.Title, story.Status, assignee,
		story.Priority, meta, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("story %d.%d: %w", story.EpicNum, story.StoryNum, ErrDuplicate)
		}
		s.logOp("promote", "action_item", start, err, logrus.Fields{"id": id})
		return nil, err
	}
	story.ID, _ = res.LastInsertId()
	story.CreatedAt = now
	story.UpdatedAt = now

	_, err = tx.conn.ExecContext(ctx, `
		UPDATE action_items SET promoted_story_num = ?, status = ?, updated_at = ? WHERE id = ?
	`, storyNum, types.ActionStatusCompleted, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to mark action item promoted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logOp("promote", "action_item", start, nil, logrus.Fields{
		"id": id, "story": story.Key(), "forced": force})
	return story, nil
}
