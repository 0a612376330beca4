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

// CreateLearning inserts a learning, generating an id when unset.
// New learnings start active.
func (s *Store) CreateLearning(ctx context.Context, l *types.Learning) error {
	start := time.Now()

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.IsActive = l.SupersededBy == ""
	if err := l.Validate(); err != nil {
		return err
	}

	l.CreatedAt = time.Now().UTC()

	var supersededBy, contextVal, sourceType any
	if l.SupersededBy != "" {
		supersededBy = l.SupersededBy
	}
	if l.Context != "" {
		contextVal = l.Context
	}
	if l.SourceType != "" {
		sourceType = l.SourceType
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_index (id, topic, category, learning, context, source_type,
			relevance_score, is_active, superseded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.Topic, l.Category, l.Learning, contextVal, sourceType,
		l.RelevanceScore, l.IsActive, supersededBy, l.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("learning %s: %w", l.ID, ErrDuplicate)
		}
		s.logOp("create", "learning", start, err, logrus.Fields{"id": l.ID})
		return err
	}

	s.logOp("create", "learning", start, nil, logrus.Fields{"id": l.ID, "topic": l.Topic})
	return nil
}

const learningColumns = `id, topic, category, learning, context, source_type, relevance_score, is_active, superseded_by, created_at`

func scanLearning(row interface{ Scan(...any) error }) (*types.Learning, error) {
	var l types.Learning
	var contextVal, sourceType, supersededBy sql.NullString

	err := row.Scan(&l.ID, &l.Topic, &l.Category, &l.Learning, &contextVal, &sourceType,
		&l.RelevanceScore, &l.IsActive, &supersededBy, &l.CreatedAt)
	if err != nil {
		return nil, err
	}

	if contextVal.Valid {
		l.Context = contextVal.String
	}
	if sourceType.Valid {
		l.SourceType = sourceType.String
	}
	if supersededBy.Valid {
		l.SupersededBy = supersededBy.String
	}
	return &l, nil
}

// GetLearning retrieves a learning by id.
func (s *Store) GetLearning(ctx context.Context, id string) (*types.Learning, error) {
	l, err := scanLearning(s.db.QueryRowContext(ctx,
		`SELECT `+learningColumns+` FROM learning_index WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("learning %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get learning: %w", err)
	}
	return l, nil
}

// ListLearnings returns learnings, optionally restricted to a category or
// active-only, most relevant first.
func (s *Store) ListLearnings(ctx context.Context, category *types.LearningCategory, activeOnly bool, limit int) ([]*types.Learning, error) {
	whereClauses := []string{}
	args := []any{}

	if category != nil {
		whereClauses = append(whereClauses, "category = ?")
		args = append(args, *category)
	}
	if activeOnly {
		whereClauses = append(whereClauses, "is_active = 1")
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}
	limitSQL := ""
	if limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM learning_index %s ORDER BY relevance_score DESC, created_at DESC%s`,
		learningColumns, whereSQL, limitSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list learnings: %w", err)
	}
	defer rows.Close()

	var learnings []*types.Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan learning: %w", err)
		}
		learnings = append(learnings, l)
	}
	return learnings, rows.Err()
}

// SupersedeLearning points oldID at newID and deactivates it. A learning
// is active iff nothing supersedes it.
func (s *Store) SupersedeLearning(ctx context.Context, oldID, newID string) error {
	start := time.Now()

	if oldID == newID {
		return &types.ValidationError{Field: "superseded_by", Reason: "a learning cannot supersede itself"}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Close()

	var exists int
	if err := tx.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM learning_index WHERE id = ?`, newID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check superseding learning: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("learning %s: %w", newID, ErrNotFound)
	}

	res, err := tx.conn.ExecContext(ctx, `
		UPDATE learning_index SET superseded_by = ?, is_active = 0 WHERE id = ?
	`, newID, oldID)
	if err != nil {
		s.logOp("supersede", "learning", start, err, logrus.Fields{"id": oldID})
		return fmt.Errorf("failed to supersede learning: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("learning %s: %w", oldID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logOp("supersede", "learning", start, nil, logrus.Fields{"id": oldID, "superseded_by": newID})
	return nil
}
