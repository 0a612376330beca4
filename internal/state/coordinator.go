// Package state composes the entity services into cross-entity operations
// and aggregate reads. The transactional cores live in the storage layer;
// the coordinator is the surface the rest of the engine talks to.
package state

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/storage"
	"github.com/gao-dev/devstate/internal/types"
)

// Coordinator is the facade over the state store's entity services.
type Coordinator struct {
	store *storage.Store
	log   logrus.FieldLogger
}

// NewCoordinator wires a coordinator over an open store.
func NewCoordinator(store *storage.Store, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{store: store, log: log}
}

// Store exposes the underlying store for callers that need the raw
// entity services.
func (c *Coordinator) Store() *storage.Store {
	return c.store
}

// CreateStory inserts a story; when autoUpdateEpic is set the parent
// epic's total_stories is incremented in the same transaction.
func (c *Coordinator) CreateStory(ctx context.Context, story *types.Story, autoUpdateEpic bool) error {
	return c.store.CreateStory(ctx, story, autoUpdateEpic)
}

// CompleteStory marks a story completed and, when autoUpdateEpic is set,
// rolls the completion up into the parent epic: completed_stories and
// progress are recomputed, a planning epic moves to in_progress on its
// first completion, and the epic completes when every story is done.
func (c *Coordinator) CompleteStory(ctx context.Context, epicNum, storyNum int, actualHours *float64, autoUpdateEpic bool) (*types.Story, *types.Epic, error) {
	return c.store.CompleteStory(ctx, epicNum, storyNum, actualHours, autoUpdateEpic)
}

// EpicState is the aggregate read for one epic.
type EpicState struct {
	Epic    *types.Epic    `json:"epic"`
	Stories []*types.Story `json:"stories"`
}

// GetEpicState returns an epic with all of its stories.
func (c *Coordinator) GetEpicState(ctx context.Context, epicNum int) (*EpicState, error) {
	epic, err := c.store.GetEpic(ctx, epicNum)
	if err != nil {
		return nil, err
	}
	stories, err := c.store.ListStories(ctx, types.StoryFilter{EpicNum: &epicNum})
	if err != nil {
		return nil, err
	}
	return &EpicState{Epic: epic, Stories: stories}, nil
}

// EpicSummary condenses one epic's progress inside a feature aggregate.
type EpicSummary struct {
	EpicNum            int              `json:"epic_num"`
	Title              string           `json:"title"`
	Status             types.EpicStatus `json:"status"`
	TotalStories       int              `json:"total_stories"`
	CompletedStories   int              `json:"completed_stories"`
	ProgressPercentage float64          `json:"progress_percentage"`
}

// FeatureState is the aggregate read for one feature.
type FeatureState struct {
	Feature            *types.Feature `json:"feature"`
	Epics              []*types.Epic  `json:"epics"`
	Summaries          []*EpicSummary `json:"summaries"`
	TotalStories       int            `json:"total_stories"`
	CompletedStories   int            `json:"completed_stories"`
	ProgressPercentage float64        `json:"progress_percentage"`
}

// GetFeatureState returns a feature with its epics, per-epic summaries,
// and rolled-up story totals.
func (c *Coordinator) GetFeatureState(ctx context.Context, name string) (*FeatureState, error) {
	feature, err := c.store.GetFeature(ctx, name)
	if err != nil {
		return nil, err
	}
	epics, err := c.store.ListEpics(ctx, types.EpicFilter{Feature: &name})
	if err != nil {
		return nil, err
	}

	fs := &FeatureState{Feature: feature, Epics: epics}
	for _, e := range epics {
		fs.Summaries = append(fs.Summaries, &EpicSummary{
			EpicNum:            e.EpicNum,
			Title:              e.Title,
			Status:             e.Status,
			TotalStories:       e.TotalStories,
			CompletedStories:   e.CompletedStories,
			ProgressPercentage: e.ProgressPercentage,
		})
		fs.TotalStories += e.TotalStories
		fs.CompletedStories += e.CompletedStories
	}
	fs.ProgressPercentage = types.Progress(fs.CompletedStories, fs.TotalStories)
	return fs, nil
}
