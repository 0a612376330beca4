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

// CreateFeature inserts a new feature. Duplicate names surface ErrDuplicate.
func (s *Store) CreateFeature(ctx context.Context, feature *types.Feature) error {
	start := time.Now()

	if feature.Scope == "" {
		feature.Scope = types.ScopeFeature
	}
	if feature.Status == "" {
		feature.Status = types.FeatureStatusPlanning
	}
	if err := feature.Validate(); err != nil {
		return err
	}

	meta, err := marshalMetadata(feature.Metadata)
	if err != nil {
		return err
	}

	feature.CreatedAt = time.Now().UTC()

	var owner any
	if feature.Owner != "" {
		owner = feature.Owner
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO features (name, scope, status, scale_level, description, owner, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, feature.Name, feature.Scope, feature.Status, feature.ScaleLevel,
		feature.Description, owner, feature.CreatedAt, meta)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("feature %q: %w", feature.Name, ErrDuplicate)
		}
		s.logOp("create", "feature", start, err, logrus.Fields{"name": feature.Name})
		return err
	}

	feature.ID, _ = res.LastInsertId()
	s.logOp("create", "feature", start, nil, logrus.Fields{"name": feature.Name, "id": feature.ID})
	return nil
}

const featureColumns = `id, name, scope, status, scale_level, description, owner, created_at, completed_at, metadata`

// scanFeature reads one feature row.
func scanFeature(row interface{ Scan(...any) error }) (*types.Feature, error) {
	var f types.Feature
	var owner sql.NullString
	var completedAt sql.NullTime
	var meta string

	err := row.Scan(&f.ID, &f.Name, &f.Scope, &f.Status, &f.ScaleLevel,
		&f.Description, &owner, &f.CreatedAt, &completedAt, &meta)
	if err != nil {
		return nil, err
	}

	if owner.Valid {
		f.Owner = owner.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		f.CompletedAt = &t
	}
	f.Metadata, err = unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFeature retrieves a feature by name. Returns ErrNotFound when missing.
func (s *Store) GetFeature(ctx context.Context, name string) (*types.Feature, error) {
	f, err := scanFeature(s.db.QueryRowContext(ctx,
		`SELECT `+featureColumns+` FROM features WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("feature %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature: %w", err)
	}
	return f, nil
}

// ListFeatures returns features matching the filter, newest first.
func (s *Store) ListFeatures(ctx context.Context, filter types.FeatureFilter) ([]*types.Feature, error) {
	whereClauses := []string{}
	args := []any{}

	if filter.Scope != nil {
		whereClauses = append(whereClauses, "scope = ?")
		args = append(args, *filter.Scope)
	}
	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, *filter.Status)
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
		`SELECT %s FROM features %s ORDER BY created_at DESC%s`,
		featureColumns, whereSQL, limitSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer rows.Close()

	var features []*types.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// TransitionFeature moves a feature to a new status, validating the
// transition. completed_at bookkeeping happens in the table triggers.
func (s *Store) TransitionFeature(ctx context.Context, name string, newStatus types.FeatureStatus) (*types.Feature, error) {
	start := time.Now()

	if !newStatus.IsValid() {
		return nil, &types.ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status: %s", newStatus)}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Close()

	var current types.FeatureStatus
	err = tx.conn.QueryRowContext(ctx,
		`SELECT status FROM features WHERE name = ?`, name).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("feature %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature status: %w", err)
	}

	if current != newStatus && !current.CanTransitionTo(newStatus) {
		return nil, &types.TransitionError{Entity: "feature", From: string(current), To: string(newStatus)}
	}

	if _, err := tx.conn.ExecContext(ctx,
		`UPDATE features SET status = ? WHERE name = ?`, newStatus, name); err != nil {
		s.logOp("transition", "feature", start, err, logrus.Fields{"name": name})
		return nil, fmt.Errorf("failed to transition feature: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logOp("transition", "feature", start, nil, logrus.Fields{"name": name, "status": newStatus})
	return s.GetFeature(ctx, name)
}

// UpdateFeatureMetadata merges keys into the feature's metadata JSON.
func (s *Store) UpdateFeatureMetadata(ctx context.Context, name string, updates map[string]any) error {
	f, err := s.GetFeature(ctx, name)
	if err != nil {
		return err
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	for k, v := range updates {
		f.Metadata[k] = v
	}
	meta, err := marshalMetadata(f.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE features SET metadata = ? WHERE name = ?`, meta, name)
	if err != nil {
		return fmt.Errorf("failed to update feature metadata: %w", err)
	}
	return nil
}

// DeleteFeature removes a feature. The audit trigger records the deletion;
// epics keep their feature name reference by design.
func (s *Store) DeleteFeature(ctx context.Context, name string) error {
	start := time.Now()

	res, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE name = ?`, name)
	if err != nil {
		s.logOp("delete", "feature", start, err, logrus.Fields{"name": name})
		return fmt.Errorf("failed to delete feature: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("feature %q: %w", name, ErrNotFound)
	}

	s.logOp("delete", "feature", start, nil, logrus.Fields{"name": name})
	return nil
}

// FeatureAuditTrail returns the audit rows for a feature, oldest first.
func (s *Store) FeatureAuditTrail(ctx context.Context, featureID int64) ([]*types.FeatureAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feature_id, operation, old_value, new_value, changed_at, changed_by
		FROM features_audit WHERE feature_id = ? ORDER BY id
	`, featureID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var audits []*types.FeatureAudit
	for rows.Next() {
		var a types.FeatureAudit
		var oldVal, newVal sql.NullString
		if err := rows.Scan(&a.ID, &a.FeatureID, &a.Operation, &oldVal, &newVal, &a.ChangedAt, &a.ChangedBy); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if oldVal.Valid {
			a.OldValue = &oldVal.String
		}
		if newVal.Valid {
			a.NewValue = &newVal.String
		}
		audits = append(audits, &a)
	}
	return audits, rows.Err()
}
