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

// CreateStory inserts a new story. When autoUpdateEpic is set, the parent
// epic's total_stories is incremented in the same transaction.
func (s *Store) CreateStory(ctx context.Context, story *types.Story, autoUpdateEpic bool) error {
	start := time.Now()

	if story.Status == "" {
		story.Status = types.StoryStatusPending
	}
	if story.Priority == "" {
		story.Priority = types.PriorityP2
	}
	if err := story.Validate(); err != nil {
		return err
	}

	meta, err := marshalMetadata(story.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	story.CreatedAt = now
	story.UpdatedAt = now

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Close()

	var assignee, blockedReason any
	if story.Assignee != "" {
		assignee = story.Assignee
	}
	if story.BlockedReason != "" {
		blockedReason = story.BlockedReason
	}

	res, err := tx.conn.ExecContext(ctx, `
		INSERT INTO story_state (epic_num, story_num, title, status, assignee, priority,
			estimate_hours, actual_hours, blocked_reason, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, story.EpicNum, story.StoryNum, story.Title, story.Status, assignee, story.Priority,
		story.EstimateHours, story.ActualHours, blockedReason, meta, story.CreatedAt, story.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("story %d.%d: %w", story.EpicNum, story.StoryNum, ErrDuplicate)
		}
		s.logOp("create", "story", start, err, logrus.Fields{"story": story.Key()})
		return err
	}
	story.ID, _ = res.LastInsertId()

	if autoUpdateEpic {
		epic, err := scanEpic(tx.conn.QueryRowContext(ctx,
			`SELECT `+epicColumns+` FROM epic_state WHERE epic_num = ?`, story.EpicNum))
		if err == sql.ErrNoRows {
			return fmt.Errorf("epic %d: %w", story.EpicNum, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get parent epic: %w", err)
		}

		total := epic.TotalStories + 1
		if _, err := updateEpicProgressTx(ctx, tx.conn, story.EpicNum,
			EpicProgressUpdate{TotalStories: &total}); err != nil {
			return fmt.Errorf("failed to update parent epic: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logOp("create", "story", start, nil, logrus.Fields{
		"story": story.Key(), "auto_update_epic": autoUpdateEpic})
	return nil
}

const storyColumns = `id, epic_num, story_num, title, status, assignee, priority, estimate_hours, actual_hours, blocked_reason, metadata, created_at, updated_at`

func scanStory(row interface{ Scan(...any) error }) (*types.Story, error) {
	var st types.Story
	var assignee, blockedReason sql.NullString
	var estimate, actual sql.NullFloat64
	var meta string

	err := row.Scan(&st.ID, &st.EpicNum, &st.StoryNum, &st.Title, &st.Status, &assignee,
		&st.Priority, &estimate, &actual, &blockedReason, &meta, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if assignee.Valid {
		st.Assignee = assignee.String
	}
	if blockedReason.Valid {
		st.BlockedReason = blockedReason.String
	}
	if estimate.Valid {
		v := estimate.Float64
		st.EstimateHours = &v
	}
	if actual.Valid {
		v := actual.Float64
		st.ActualHours = &v
	}
	st.Metadata, err = unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStory retrieves a story by its composite key.
func (s *Store) GetStory(ctx context.Context, epicNum, storyNum int) (*types.Story, error) {
	st, err := scanStory(s.db.QueryRowContext(ctx,
		`SELECT `+storyColumns+` FROM story_state WHERE epic_num = ? AND story_num = ?`,
		epicNum, storyNum))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("story %d.%d: %w", epicNum, storyNum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story: %w", err)
	}
	return st, nil
}

// ListStories returns stories matching the filter, ordered by key.
func (s *Store) ListStories(ctx context.Context, filter types.StoryFilter) ([]*types.Story, error) {
	whereClauses := []string{}
	args := []any{}

	if filter.EpicNum != nil {
		whereClauses = append(whereClauses, "epic_num = ?")
		args = append(args, *filter.EpicNum)
	}
	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Assignee != nil {
		whereClauses = append(whereClauses, "assignee = ?")
		args = append(args, *filter.Assignee)
	}
	if filter.Priority != nil {
		whereClauses = append(whereClauses, "priority = ?")
		args = append(args, *filter.Priority)
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
		`SELECT %s FROM story_state %s ORDER BY epic_num, story_num%s`,
		storyColumns, whereSQL, limitSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer rows.Close()

	var stories []*types.Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		stories = append(stories, st)
	}
	return stories, rows.Err()
}

// TransitionStory moves a story to a new status, validating the transition.
// blockedReason is required when transitioning into blocked and cleared on
// the way out.
func (s *Store) TransitionStory(ctx context.Context, epicNum, storyNum int, newStatus types.StoryStatus, blockedReason string) (*types.Story, error) {
	start := time.Now()

	if !newStatus.IsValid() {
		return nil, &types.ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status: %s", newStatus)}
	}
	if newStatus == types.StoryStatusBlocked && blockedReason == "" {
		return nil, &types.ValidationError{Field: "blocked_reason", Reason: "blocked_reason is required for blocked stories"}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Close()

	st, err := scanStory(tx.conn.QueryRowContext(ctx,
		`SELECT `+storyColumns+` FROM story_state WHERE epic_num = ? AND story_num = ?`,
		epicNum, storyNum))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("story %d.%d: %w", epicNum, storyNum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story: %w", err)
	}

	if st.Status != newStatus && !st.Status.CanTransitionTo(newStatus) {
		return nil, &types.TransitionError{Entity: "story", From: string(st.Status), To: string(newStatus)}
	}

	var reason any
	if newStatus == types.StoryStatusBlocked {
		reason = blockedReason
	}

	st.Status = newStatus
	st.BlockedReason = blockedReason
	if newStatus != types.StoryStatusBlocked {
		st.BlockedReason = ""
	}
	st.UpdatedAt = time.Now().UTC()

	_, err = tx.conn.ExecContext(ctx, `
		UPDATE story_state SET status = ?, blocked_reason = ?, updated_at = ?
		WHERE epic_num = ? AND story_num = ?
	`, newStatus, reason, st.UpdatedAt, epicNum, storyNum)
	if err != nil {
		s.logOp("transition", "story", start, err, logrus.Fields{"story": st.Key()})
		return nil, fmt.Errorf("failed to transition story: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logOp("transition", "story", start, nil, logrus.Fields{"story": st.Key(), "status": newStatus})
	return st, nil
}

// CompleteStory marks a story completed, records actual hours, and, when
// autoUpdateEpic is set, rolls the completion up into the parent epic:
// completed_stories is incremented, a planning epic moves to in_progress on
// first completion, and the epic completes when all stories are done.
func (s *Store) CompleteStory(ctx context.Context, epicNum, storyNum int, actualHours *float64, autoUpdateEpic bool) (*types.Story, *types.Epic, error) {
	start := time.Now()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Close()

	st, err := scanStory(tx.conn.QueryRowContext(ctx,
		`SELECT `+storyColumns+` FROM story_state WHERE epic_num = ? AND story_num = ?`,
		epicNum, storyNum))
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("story %d.%d: %w", epicNum, storyNum, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get story: %w", err)
	}

	alreadyCompleted := st.Status == types.StoryStatusCompleted
	if !alreadyCompleted && !st.Status.CanTransitionTo(types.StoryStatusCompleted) {
		return nil, nil, &types.TransitionError{Entity: "story", From: string(st.Status), To: string(types.StoryStatusCompleted)}
	}

	st.Status = types.StoryStatusCompleted
	st.BlockedReason = ""
	if actualHours != nil {
		st.ActualHours = actualHours
	}
	st.UpdatedAt = time.Now().UTC()

	_, err = tx.conn.ExecContext(ctx, `
		UPDATE story_state SET status = ?, actual_hours = ?, blocked_reason = NULL, updated_at = ?
		WHERE epic_num = ? AND story_num = ?
	`, st.Status, st.ActualHours, st.UpdatedAt, epicNum, storyNum)
	if err != nil {
		s.logOp("complete", "story", start, err, logrus.Fields{"story": st.Key()})
		return nil, nil, fmt.Errorf("failed to complete story: %w", err)
	}

	var epic *types.Epic
	if autoUpdateEpic && !alreadyCompleted {
		epic, err = scanEpic(tx.conn.QueryRowContext(ctx,
			`SELECT `+epicColumns+` FROM epic_state WHERE epic_num = ?`, epicNum))
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("epic %d: %w", epicNum, ErrNotFound)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get parent epic: %w", err)
		}

		completed := epic.CompletedStories + 1
		update := EpicProgressUpdate{CompletedStories: &completed}

		// First completion activates a planning epic; full completion
		// closes it out.
		switch {
		case completed >= epic.TotalStories && epic.TotalStories > 0:
			done := types.EpicStatusCompleted
			update.Status = &done
		case epic.Status == types.EpicStatusPlanning:
			active := types.EpicStatusInProgress
			update.Status = &active
		}

		epic, err = updateEpicProgressTx(ctx, tx.conn, epicNum, update)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to roll up completion into epic: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	s.logOp("complete", "story", start, nil, logrus.Fields{
		"story": st.Key(), "auto_update_epic": autoUpdateEpic})
	return st, epic, nil
}

// ForceStoryStatus overwrites a story's status without transition
// validation. Consistency repair and atomic rollback use this when an
// external source of truth decides the status. blockedReason travels
// with the status: it is stored for blocked stories and cleared for
// everything else, so a restored blocked story keeps its reason.
func (s *Store) ForceStoryStatus(ctx context.Context, epicNum, storyNum int, status types.StoryStatus, blockedReason string) error {
	if !status.IsValid() {
		return &types.ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status: %s", status)}
	}
	if status == types.StoryStatusBlocked && blockedReason == "" {
		return &types.ValidationError{Field: "blocked_reason", Reason: "blocked_reason is required for blocked stories"}
	}
	var reason any
	if status == types.StoryStatusBlocked {
		reason = blockedReason
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE story_state SET status = ?, blocked_reason = ?, updated_at = ?
		WHERE epic_num = ? AND story_num = ?
	`, status, reason, time.Now().UTC(), epicNum, storyNum)
	if err != nil {
		return fmt.Errorf("failed to force story status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("story %d.%d: %w", epicNum, storyNum, ErrNotFound)
	}
	return nil
}

// UpdateStoryMetadata merges keys into the story's metadata JSON.
func (s *Store) UpdateStoryMetadata(ctx context.Context, epicNum, storyNum int, updates map[string]any) error {
	st, err := s.GetStory(ctx, epicNum, storyNum)
	if err != nil {
		return err
	}
	if st.Metadata == nil {
		st.Metadata = map[string]any{}
	}
	for k, v := range updates {
		st.Metadata[k] = v
	}
	meta, err := marshalMetadata(st.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE story_state SET metadata = ?, updated_at = ? WHERE epic_num = ? AND story_num = ?
	`, meta, time.Now().UTC(), epicNum, storyNum)
	if err != nil {
		return fmt.Errorf("failed to update story metadata: %w", err)
	}
	return nil
}

// DeleteStory removes a story row. Used by consistency repair for orphaned
// records.
func (s *Store) DeleteStory(ctx context.Context, epicNum, storyNum int) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM story_state WHERE epic_num = ? AND story_num = ?`, epicNum, storyNum)
	if err != nil {
		s.logOp("delete", "story", start, err, logrus.Fields{"story": fmt.Sprintf("%d.%d", epicNum, storyNum)})
		return fmt.Errorf("failed to delete story: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("story %d.%d: %w", epicNum, storyNum, ErrNotFound)
	}
	s.logOp("delete", "story", start, nil, logrus.Fields{"story": fmt.Sprintf("%d.%d", epicNum, storyNum)})
	return nil
}
