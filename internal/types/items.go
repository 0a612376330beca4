package types

import (
	"fmt"
	"time"
)

// ActionItem is a follow-up captured during ceremonies or reviews.
// Critical items may be promoted to stories, at most one per epic unless
// the promotion is forced.
type ActionItem struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Priority    ActionItemPriority `json:"priority"`
	Status      ActionItemStatus   `json:"status"`
	EpicNum     *int               `json:"epic_num,omitempty"`
	StoryNum    *int               `json:"story_num,omitempty"`
	Assignee    string             `json:"assignee,omitempty"`
	DueDate     *time.Time         `json:"due_date,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// Validate checks if the action item has valid field values
func (a *ActionItem) Validate() error {
	if len(a.Title) == 0 {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if !a.Priority.IsValid() {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("invalid priority: %s", a.Priority)}
	}
	if !a.Status.IsValid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status: %s", a.Status)}
	}
	return nil
}

// ActionItemPriority ranks action items
type ActionItemPriority string

const (
	ActionPriorityCritical ActionItemPriority = "critical"
	ActionPriorityHigh     ActionItemPriority = "high"
	ActionPriorityMedium   ActionItemPriority = "medium"
	ActionPriorityLow      ActionItemPriority = "low"
)

// IsValid checks if the priority value is valid
func (p ActionItemPriority) IsValid() bool {
	switch p {
	case ActionPriorityCritical, ActionPriorityHigh, ActionPriorityMedium, ActionPriorityLow:
		return true
	}
	return false
}

// ActionItemStatus represents the state of an action item
type ActionItemStatus string

const (
	ActionStatusPending    ActionItemStatus = "pending"
	ActionStatusInProgress ActionItemStatus = "in_progress"
	ActionStatusCompleted  ActionItemStatus = "completed"
)

// IsValid checks if the status value is valid
func (s ActionItemStatus) IsValid() bool {
	switch s {
	case ActionStatusPending, ActionStatusInProgress, ActionStatusCompleted:
		return true
	}
	return false
}

// ActionItemFilter is used to filter action item queries
type ActionItemFilter struct {
	Status   *ActionItemStatus
	Priority *ActionItemPriority
	EpicNum  *int
	Limit    int
}

// Ceremony records a team ritual: retrospective, standup, planning, review.
type Ceremony struct {
	ID           string    `json:"id"`
	CeremonyType string    `json:"ceremony_type"`
	Summary      string    `json:"summary"`
	Participants string    `json:"participants,omitempty"`
	Decisions    string    `json:"decisions,omitempty"`
	ActionItems  string    `json:"action_items,omitempty"`
	HeldAt       time.Time `json:"held_at"`
	EpicNum      *int      `json:"epic_num,omitempty"`
	StoryNum     *int      `json:"story_num,omitempty"`
}

// Validate checks if the ceremony has valid field values
func (c *Ceremony) Validate() error {
	if len(c.CeremonyType) == 0 {
		return &ValidationError{Field: "ceremony_type", Reason: "ceremony_type is required"}
	}
	if len(c.Summary) == 0 {
		return &ValidationError{Field: "summary", Reason: "summary is required"}
	}
	return nil
}

// Learning is an indexed piece of institutional knowledge. Superseded
// learnings stay in the table but are marked inactive.
type Learning struct {
	ID             string           `json:"id"`
	Topic          string           `json:"topic"`
	Category       LearningCategory `json:"category"`
	Learning       string           `json:"learning"`
	Context        string           `json:"context,omitempty"`
	SourceType     string           `json:"source_type,omitempty"`
	RelevanceScore float64          `json:"relevance_score"`
	IsActive       bool             `json:"is_active"`
	SupersededBy   string           `json:"superseded_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Validate checks if the learning has valid field values
func (l *Learning) Validate() error {
	if len(l.Topic) == 0 {
		return &ValidationError{Field: "topic", Reason: "topic is required"}
	}
	if len(l.Learning) == 0 {
		return &ValidationError{Field: "learning", Reason: "learning text is required"}
	}
	if !l.Category.IsValid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("invalid category: %s", l.Category)}
	}
	if l.RelevanceScore < 0 || l.RelevanceScore > 1 {
		return &ValidationError{Field: "relevance_score", Reason: fmt.Sprintf("relevance_score must be in [0,1] (got %g)", l.RelevanceScore)}
	}
	return nil
}

// LearningCategory classifies learnings
type LearningCategory string

const (
	LearningTechnical     LearningCategory = "technical"
	LearningProcess       LearningCategory = "process"
	LearningDomain        LearningCategory = "domain"
	LearningArchitectural LearningCategory = "architectural"
	LearningTeam          LearningCategory = "team"
)

// IsValid checks if the category value is valid
func (c LearningCategory) IsValid() bool {
	switch c {
	case LearningTechnical, LearningProcess, LearningDomain, LearningArchitectural, LearningTeam:
		return true
	}
	return false
}
