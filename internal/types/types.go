package types

import (
	"fmt"
	"math"
	"time"
)

// Feature is the top-level unit of product scope. Features contain epics,
// which contain stories; epics reference features by name only.
type Feature struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Scope       FeatureScope   `json:"scope"`
	Status      FeatureStatus  `json:"status"`
	ScaleLevel  int            `json:"scale_level"`
	Description string         `json:"description,omitempty"`
	Owner       string         `json:"owner,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate checks if the feature has valid field values
func (f *Feature) Validate() error {
	if len(f.Name) == 0 {
		return &ValidationError{Field: "name", Reason: "name is required"}
	}
	if len(f.Name) > 200 {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("name must be 200 characters or less (got %d)", len(f.Name))}
	}
	if f.ScaleLevel < 0 || f.ScaleLevel > 4 {
		return &ValidationError{Field: "scale_level", Reason: fmt.Sprintf("scale_level must be between 0 and 4 (got %d)", f.ScaleLevel)}
	}
	if !f.Scope.IsValid() {
		return &ValidationError{Field: "scope", Reason: fmt.Sprintf("invalid scope: %s", f.Scope)}
	}
	if !f.Status.IsValid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status: %s", f.Status)}
	}
	return nil
}

// FeatureScope distinguishes MVP work from post-MVP features
type FeatureScope string

const (
	ScopeMVP     FeatureScope = "mvp"
	ScopeFeature FeatureScope = "feature"
)

// IsValid checks if the scope value is valid
func (s FeatureScope) IsValid() bool {
	switch s {
	case ScopeMVP, ScopeFeature:
		return true
	}
	return false
}

// FeatureStatus represents the lifecycle state of a feature
type FeatureStatus string

const (
	FeatureStatusPlanning FeatureStatus = "planning"
	FeatureStatusActive   FeatureStatus = "active"
	FeatureStatusComplete FeatureStatus = "complete"
	FeatureStatusArchived FeatureStatus = "archived"
)

// IsValid checks if the status value is valid
func (s FeatureStatus) IsValid() bool {
	switch s {
	case FeatureStatusPlanning, FeatureStatusActive, FeatureStatusComplete, FeatureStatusArchived:
		return true
	}
	return false
}

// featureTransitions defines the allowed feature status transitions.
// Completed features may be reopened to active; archived is terminal.
var featureTransitions = map[FeatureStatus][]FeatureStatus{
	FeatureStatusPlanning: {FeatureStatusActive, FeatureStatusArchived},
	FeatureStatusActive:   {FeatureStatusComplete, FeatureStatusPlanning, FeatureStatusArchived},
	FeatureStatusComplete: {FeatureStatusActive, FeatureStatusArchived},
	FeatureStatusArchived: {},
}

// CanTransitionTo reports whether the transition to target is allowed.
func (s FeatureStatus) CanTransitionTo(target FeatureStatus) bool {
	for _, t := range featureTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Epic groups stories under a numbered milestone. Progress is derived from
// story counts, never stored independently of them.
type Epic struct {
	EpicNum            int            `json:"epic_num"`
	Title              string         `json:"title"`
	Status             EpicStatus     `json:"status"`
	TotalStories       int            `json:"total_stories"`
	CompletedStories   int            `json:"completed_stories"`
	ProgressPercentage float64        `json:"progress_percentage"`
	Feature            string         `json:"feature,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Validate checks if the epic has valid field values
func (e *Epic) Validate() error {
	if e.EpicNum < 1 {
		return &ValidationError{Field: "epic_num", Reason: fmt.Sprintf("epic_num must be >= 1 (got %d)", e.EpicNum)}
	}
	if len(e.Title) == 0 {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if !e.Status.IsValid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status: %s", e.Status)}
	}
	if e.TotalStories < 0 {
		return &ValidationError{Field: "total_stories", Reason: "total_stories cannot be negative"}
	}
	if e.CompletedStories < 0 {
		return &ValidationError{Field: "completed_stories", Reason: "completed_stories cannot be negative"}
	}
	if e.CompletedStories > e.TotalStories {
		return &ValidationError{Field: "completed_stories", Reason: fmt.Sprintf("completed_stories (%d) cannot exceed total_stories (%d)", e.CompletedStories, e.TotalStories)}
	}
	return nil
}

// Progress returns the rounded completion percentage, 0 when no stories exist.
func Progress(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(100 * float64(completed) / float64(total))
}

// EpicStatus represents the lifecycle state of an epic
type EpicStatus string

const (
	EpicStatusPlanning   EpicStatus = "planning"
	EpicStatusInProgress EpicStatus = "in_progress"
	EpicStatusCompleted  EpicStatus = "completed"
)

// IsValid checks if the status value is valid
func (s EpicStatus) IsValid() bool {
	switch s {
	case EpicStatusPlanning, EpicStatusInProgress, EpicStatusCompleted:
		return true
	}
	return false
}

// epicTransitions defines the allowed epic status transitions.
// A completed epic is only reopened through an explicit transition.
var epicTransitions = map[EpicStatus][]EpicStatus{
	EpicStatusPlanning:   {EpicStatusInProgress, EpicStatusCompleted},
	EpicStatusInProgress: {EpicStatusCompleted, EpicStatusPlanning},
	EpicStatusCompleted:  {EpicStatusInProgress},
}

// CanTransitionTo reports whether the transition to target is allowed.
func (s EpicStatus) CanTransitionTo(target EpicStatus) bool {
	for _, t := range epicTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Story is the unit of executable work, keyed by (epic_num, story_num).
type Story struct {
	ID            int64          `json:"id"`
	EpicNum       int            `json:"epic_num"`
	StoryNum      int            `json:"story_num"`
	Title         string         `json:"title"`
	Status        StoryStatus    `json:"status"`
	Assignee      string         `json:"assignee,omitempty"`
	Priority      Priority       `json:"priority"`
	EstimateHours *float64       `json:"estimate_hours,omitempty"`
	ActualHours   *float64       `json:"actual_hours,omitempty"`
	BlockedReason string         `json:"blocked_reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Validate checks if the story has valid field values
func (s *Story) Validate() error {
	if s.EpicNum < 1 {
		return &ValidationError{Field: "epic_num", Reason: fmt.Sprintf("epic_num must be >= 1 (got %d)", s.EpicNum)}
	}
	if s.StoryNum < 1 {
		return &ValidationError{Field: "story_num", Reason: fmt.Sprintf("story_num must be >= 1 (got %d)", s.StoryNum)}
	}
	if len(s.Title) == 0 {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if !s.Status.IsValid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status: %s", s.Status)}
	}
	if !s.Priority.IsValid() {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("invalid priority: %s", s.Priority)}
	}
	if s.Status == StoryStatusBlocked && s.BlockedReason == "" {
		return &ValidationError{Field: "blocked_reason", Reason: "blocked_reason is required for blocked stories"}
	}
	if s.EstimateHours != nil && *s.EstimateHours < 0 {
		return &ValidationError{Field: "estimate_hours", Reason: "estimate_hours cannot be negative"}
	}
	if s.ActualHours != nil && *s.ActualHours < 0 {
		return &ValidationError{Field: "actual_hours", Reason: "actual_hours cannot be negative"}
	}
	return nil
}

// Key returns the composite story key in "E.S" form, e.g. "1.2".
func (s *Story) Key() string {
	return fmt.Sprintf("%d.%d", s.EpicNum, s.StoryNum)
}

// StoryStatus represents the current state of a story
type StoryStatus string

const (
	StoryStatusPending    StoryStatus = "pending"
	StoryStatusInProgress StoryStatus = "in_progress"
	StoryStatusBlocked    StoryStatus = "blocked"
	StoryStatusTesting    StoryStatus = "testing"
	StoryStatusReview     StoryStatus = "review"
	StoryStatusCompleted  StoryStatus = "completed"
)

// IsValid checks if the status value is valid
func (s StoryStatus) IsValid() bool {
	switch s {
	case StoryStatusPending, StoryStatusInProgress, StoryStatusBlocked,
		StoryStatusTesting, StoryStatusReview, StoryStatusCompleted:
		return true
	}
	return false
}

// storyTransitions defines the allowed story status transitions.
// Blocked stories return to the active path; completed stories can be
// reopened to in_progress only.
var storyTransitions = map[StoryStatus][]StoryStatus{
	StoryStatusPending:    {StoryStatusInProgress, StoryStatusBlocked, StoryStatusCompleted},
	StoryStatusInProgress: {StoryStatusBlocked, StoryStatusTesting, StoryStatusReview, StoryStatusCompleted, StoryStatusPending},
	StoryStatusBlocked:    {StoryStatusPending, StoryStatusInProgress},
	StoryStatusTesting:    {StoryStatusInProgress, StoryStatusReview, StoryStatusCompleted},
	StoryStatusReview:     {StoryStatusInProgress, StoryStatusCompleted},
	StoryStatusCompleted:  {StoryStatusInProgress},
}

// CanTransitionTo reports whether the transition to target is allowed.
func (s StoryStatus) CanTransitionTo(target StoryStatus) bool {
	for _, t := range storyTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Priority ranks stories from P0 (critical) to P3 (low)
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// AuditOperation categorizes feature audit rows
type AuditOperation string

const (
	AuditInsert AuditOperation = "INSERT"
	AuditUpdate AuditOperation = "UPDATE"
	AuditDelete AuditOperation = "DELETE"
)

// FeatureAudit is an append-only audit trail row for the features table
type FeatureAudit struct {
	ID        int64          `json:"id"`
	FeatureID int64          `json:"feature_id"`
	Operation AuditOperation `json:"operation"`
	OldValue  *string        `json:"old_value,omitempty"`
	NewValue  *string        `json:"new_value,omitempty"`
	ChangedAt time.Time      `json:"changed_at"`
	ChangedBy string         `json:"changed_by"`
}

// FeatureFilter is used to filter feature queries
type FeatureFilter struct {
	Scope  *FeatureScope
	Status *FeatureStatus
	Limit  int
}

// StoryFilter is used to filter story queries
type StoryFilter struct {
	EpicNum  *int
	Status   *StoryStatus
	Assignee *string
	Priority *Priority
	Limit    int
}

// EpicFilter is used to filter epic queries
type EpicFilter struct {
	Status  *EpicStatus
	Feature *string
	Limit   int
}
