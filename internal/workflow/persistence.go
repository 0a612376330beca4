package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/storage"
)

// ErrContextNotFound is returned when a workflow id has no persisted
// snapshot.
var ErrContextNotFound = errors.New("workflow context not found")

// Persistence stores contexts as JSON snapshots with monotonic versions.
type Persistence struct {
	store *storage.Store
	log   logrus.FieldLogger
}

// NewPersistence wires context persistence over an open store.
func NewPersistence(store *storage.Store, log logrus.FieldLogger) *Persistence {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Persistence{store: store, log: log}
}

// Save persists a context snapshot. Every save of the same workflow id
// gets a strictly higher version; the assigned version is returned.
func (p *Persistence) Save(ctx context.Context, wc Context) (int, error) {
	data, err := json.Marshal(wc)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal workflow context: %w", err)
	}

	row := &storage.ContextRow{
		WorkflowID:   wc.WorkflowID,
		EpicNum:      wc.EpicNum,
		StoryNum:     wc.StoryNum,
		Feature:      wc.Feature,
		WorkflowName: wc.WorkflowName,
		CurrentPhase: wc.CurrentPhase,
		Status:       string(wc.Status),
		ContextData:  string(data),
		CreatedAt:    wc.CreatedAt,
		UpdatedAt:    wc.UpdatedAt,
	}
	return p.store.SaveContextRow(ctx, row)
}

// Load retrieves the latest snapshot of a workflow id.
func (p *Persistence) Load(ctx context.Context, workflowID string) (Context, int, error) {
	row, err := p.store.LoadContextRow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Context{}, 0, fmt.Errorf("%s: %w", workflowID, ErrContextNotFound)
		}
		return Context{}, 0, err
	}
	return decodeRow(row)
}

// Latest returns the most recently updated context for an epic,
// optionally narrowed to a story.
func (p *Persistence) Latest(ctx context.Context, epicNum int, storyNum *int) (Context, int, error) {
	row, err := p.store.LatestContextRow(ctx, epicNum, storyNum)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Context{}, 0, fmt.Errorf("epic %d: %w", epicNum, ErrContextNotFound)
		}
		return Context{}, 0, err
	}
	return decodeRow(row)
}

// LatestByStatus narrows Latest to one status.
func (p *Persistence) LatestByStatus(ctx context.Context, epicNum int, storyNum *int, status Status) (Context, int, error) {
	row, err := p.store.LatestContextRowByStatus(ctx, epicNum, storyNum, string(status))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Context{}, 0, fmt.Errorf("epic %d status %s: %w", epicNum, status, ErrContextNotFound)
		}
		return Context{}, 0, err
	}
	return decodeRow(row)
}

// ByEpic returns all contexts for an epic, newest first.
func (p *Persistence) ByEpic(ctx context.Context, epicNum int) ([]Context, error) {
	rows, err := p.store.ContextRowsByEpic(ctx, epicNum)
	if err != nil {
		return nil, err
	}
	return decodeRows(rows)
}

// ByFeature returns all contexts for a feature, newest first.
func (p *Persistence) ByFeature(ctx context.Context, feature string) ([]Context, error) {
	rows, err := p.store.ContextRowsByFeature(ctx, feature)
	if err != nil {
		return nil, err
	}
	return decodeRows(rows)
}

// SearchFilter narrows Search results.
type SearchFilter struct {
	EpicNum      *int
	StoryNum     *int
	Feature      *string
	Status       *Status
	WorkflowName *string
}

// Search returns contexts matching the filter with pagination.
func (p *Persistence) Search(ctx context.Context, filter SearchFilter, limit, offset int) ([]Context, error) {
	sf := storage.ContextSearchFilter{
		EpicNum:      filter.EpicNum,
		StoryNum:     filter.StoryNum,
		Feature:      filter.Feature,
		WorkflowName: filter.WorkflowName,
		Limit:        limit,
		Offset:       offset,
	}
	if filter.Status != nil {
		s := string(*filter.Status)
		sf.Status = &s
	}
	rows, err := p.store.SearchContextRows(ctx, sf)
	if err != nil {
		return nil, err
	}
	return decodeRows(rows)
}

// Versions returns the version counters for an epic's contexts.
func (p *Persistence) Versions(ctx context.Context, epicNum int, storyNum *int) ([]*storage.ContextVersion, error) {
	return p.store.ContextVersions(ctx, epicNum, storyNum)
}

func decodeRow(row *storage.ContextRow) (Context, int, error) {
	var wc Context
	if err := json.Unmarshal([]byte(row.ContextData), &wc); err != nil {
		return Context{}, 0, fmt.Errorf("failed to unmarshal workflow context %s: %w", row.WorkflowID, err)
	}
	return wc, row.Version, nil
}

func decodeRows(rows []*storage.ContextRow) ([]Context, error) {
	out := make([]Context, 0, len(rows))
	for _, row := range rows {
		wc, _, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, wc)
	}
	return out, nil
}
