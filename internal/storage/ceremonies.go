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

// CreateCeremony inserts a ceremony record, generating an id when unset.
func (s *Store) CreateCeremony(ctx context.Context, c *types.Ceremony) error {
	start := time.Now()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.HeldAt.IsZero() {
		c.HeldAt = time.Now().UTC()
	}
	if err := c.Validate(); err != nil {
		return err
	}

	nullable := func(s string) any {
		if s == "" {
			return nil
		}
		return s
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ceremonies (id, ceremony_type, summary, participants, decisions,
			action_items, held_at, epic_num, story_num)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.CeremonyType, c.Summary, nullable(c.Participants), nullable(c.Decisions),
		nullable(c.ActionItems), c.HeldAt, c.EpicNum, c.StoryNum)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("ceremony %s: %w", c.ID, ErrDuplicate)
		}
		s.logOp("create", "ceremony", start, err, logrus.Fields{"id": c.ID})
		return err
	}

	s.logOp("create", "ceremony", start, nil, logrus.Fields{"id": c.ID, "type": c.CeremonyType})
	return nil
}

const ceremonyColumns = `id, ceremony_type, summary, participants, decisions, action_items, held_at, epic_num, story_num`

func scanCeremony(row interface{ Scan(...any) error }) (*types.Ceremony, error) {
	var c types.Ceremony
	var participants, decisions, actionItems sql.NullString
	var epicNum, storyNum sql.NullInt64

	err := row.Scan(&c.ID, &c.CeremonyType, &c.Summary, &participants, &decisions,
		&actionItems, &c.HeldAt, &epicNum, &storyNum)
	if err != nil {
		return nil, err
	}

	if participants.Valid {
		c.Participants = participants.String
	}
	if decisions.Valid {
		c.Decisions = decisions.String
	}
	if actionItems.Valid {
		c.ActionItems = actionItems.String
	}
	if epicNum.Valid {
		v := int(epicNum.Int64)
		c.EpicNum = &v
	}
	if storyNum.Valid {
		v := int(storyNum.Int64)
		c.StoryNum = &v
	}
	return &c, nil
}

// GetCeremony retrieves a ceremony by id.
func (s *Store) GetCeremony(ctx context.Context, id string) (*types.Ceremony, error) {
	c, err := scanCeremony(s.db.QueryRowContext(ctx,
		`SELECT `+ceremonyColumns+` FROM ceremonies WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ceremony %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ceremony: %w", err)
	}
	return c, nil
}

// ListCeremonies returns ceremonies, optionally filtered by type or epic,
// most recent first.
func (s *Store) ListCeremonies(ctx context.Context, ceremonyType string, epicNum *int, limit int) ([]*types.Ceremony, error) {
	whereClauses := []string{}
	args := []any{}

	if ceremonyType != "" {
		whereClauses = append(whereClauses, "ceremony_type = ?")
		args = append(args, ceremonyType)
	}
	if epicNum != nil {
		whereClauses = append(whereClauses, "epic_num = ?")
		args = append(args, *epicNum)
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
		`SELECT %s FROM ceremonies %s ORDER BY held_at DESC%s`,
		ceremonyColumns, whereSQL, limitSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ceremonies: %w", err)
	}
	defer rows.Close()

	var ceremonies []*types.Ceremony
	for rows.Next() {
		c, err := scanCeremony(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ceremony: %w", err)
		}
		ceremonies = append(ceremonies, c)
	}
	return ceremonies, rows.Err()
}
