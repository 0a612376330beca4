// Package workflow holds the per-run workflow context: an immutable
// record transformed by pure copy functions, persisted as versioned JSON
// snapshots in the state store.
package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Status values a workflow run moves through.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// PhaseEntry records one completed phase. DurationSeconds is nil for the
// first entry, where no predecessor exists to measure against.
type PhaseEntry struct {
	Phase           string   `json:"phase"`
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// Context is the immutable workflow run record. Transformers return a
// new value; the receiver is never mutated. Phases are free-form strings.
type Context struct {
	WorkflowID   string         `json:"workflow_id"`
	EpicNum      int            `json:"epic_num"`
	StoryNum     *int           `json:"story_num,omitempty"`
	Feature      string         `json:"feature,omitempty"`
	WorkflowName string         `json:"workflow_name"`
	CurrentPhase string         `json:"current_phase"`
	PhaseHistory []PhaseEntry   `json:"phase_history"`
	Decisions    map[string]any `json:"decisions"`
	Artifacts    []string       `json:"artifacts"`
	Errors       []string       `json:"errors"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
}

// New starts a running context for an epic, generating the workflow id.
func New(epicNum int, storyNum *int, feature, workflowName, initialPhase string) Context {
	now := time.Now().UTC()
	return Context{
		WorkflowID:   uuid.NewString(),
		EpicNum:      epicNum,
		StoryNum:     storyNum,
		Feature:      feature,
		WorkflowName: workflowName,
		CurrentPhase: initialPhase,
		Status:       StatusRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// clone deep-copies the mutable fields so transformers never alias the
// receiver's slices or maps.
func (c Context) clone() Context {
	out := c
	out.PhaseHistory = append([]PhaseEntry(nil), c.PhaseHistory...)
	out.Artifacts = append([]string(nil), c.Artifacts...)
	out.Errors = append([]string(nil), c.Errors...)
	out.Tags = append([]string(nil), c.Tags...)
	if c.Decisions != nil {
		out.Decisions = make(map[string]any, len(c.Decisions))
		for k, v := range c.Decisions {
			out.Decisions[k] = v
		}
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// AddDecision returns a copy with the decision recorded.
func (c Context) AddDecision(key string, value any) Context {
	out := c.clone()
	if out.Decisions == nil {
		out.Decisions = map[string]any{}
	}
	out.Decisions[key] = value
	out.UpdatedAt = time.Now().UTC()
	return out
}

// AddArtifact returns a copy with the artifact path appended.
func (c Context) AddArtifact(path string) Context {
	out := c.clone()
	out.Artifacts = append(out.Artifacts, path)
	out.UpdatedAt = time.Now().UTC()
	return out
}

// AddError returns a copy with the error message appended.
func (c Context) AddError(message string) Context {
	out := c.clone()
	out.Errors = append(out.Errors, message)
	out.UpdatedAt = time.Now().UTC()
	return out
}

// TransitionPhase returns a copy in newPhase, sealing the previous phase
// into PhaseHistory. Duration is measured from the previous history entry;
// the first entry has no predecessor and carries a nil duration.
func (c Context) TransitionPhase(newPhase string) Context {
	out := c.clone()
	now := time.Now().UTC()

	entry := PhaseEntry{Phase: c.CurrentPhase, Timestamp: now}
	if n := len(c.PhaseHistory); n > 0 {
		d := now.Sub(c.PhaseHistory[n-1].Timestamp).Seconds()
		entry.DurationSeconds = &d
	}

	out.PhaseHistory = append(out.PhaseHistory, entry)
	out.CurrentPhase = newPhase
	out.UpdatedAt = now
	return out
}

// WithStatus returns a copy in the given status.
func (c Context) WithStatus(status Status) Context {
	out := c.clone()
	out.Status = status
	out.UpdatedAt = time.Now().UTC()
	return out
}

// Changes names the fields CopyWith may override. Nil pointers leave the
// field untouched.
type Changes struct {
	Feature      *string
	WorkflowName *string
	CurrentPhase *string
	Status       *Status
	Metadata     map[string]any
	Tags         []string
}

// CopyWith returns a copy with the given changes applied.
func (c Context) CopyWith(ch Changes) Context {
	out := c.clone()
	if ch.Feature != nil {
		out.Feature = *ch.Feature
	}
	if ch.WorkflowName != nil {
		out.WorkflowName = *ch.WorkflowName
	}
	if ch.CurrentPhase != nil {
		out.CurrentPhase = *ch.CurrentPhase
	}
	if ch.Status != nil {
		out.Status = *ch.Status
	}
	if ch.Metadata != nil {
		if out.Metadata == nil {
			out.Metadata = map[string]any{}
		}
		for k, v := range ch.Metadata {
			out.Metadata[k] = v
		}
	}
	if ch.Tags != nil {
		out.Tags = append([]string(nil), ch.Tags...)
	}
	out.UpdatedAt = time.Now().UTC()
	return out
}
