package git

import (
	"fmt"
	"strings"

	"github.com/gao-dev/devstate/internal/types"
)

// CommitType categorizes engine-generated commits.
type CommitType string

const (
	// CommitFeat marks entity creation commits.
	CommitFeat CommitType = "feat"

	// CommitChore marks transitions, migrations, and repairs.
	CommitChore CommitType = "chore"

	// CommitDocs marks document scaffolding commits.
	CommitDocs CommitType = "docs"
)

// Message is a conventional commit message: <type>(<scope>): <subject>,
// with an optional body after a blank line.
type Message struct {
	Type    CommitType
	Scope   string
	Subject string
	Body    string
}

// Render produces the full commit message text.
func (m Message) Render() string {
	header := fmt.Sprintf("%s(%s): %s", m.Type, m.Scope, m.Subject)
	if m.Body == "" {
		return header
	}
	return header + "\n\n" + m.Body
}

// EpicScope returns the commit scope for an epic, e.g. "epic-3".
func EpicScope(epicNum int) string {
	return fmt.Sprintf("epic-%d", epicNum)
}

// StoryScope returns the commit scope for a story, e.g. "story-1.2".
func StoryScope(epicNum, storyNum int) string {
	return fmt.Sprintf("story-%d.%d", epicNum, storyNum)
}

// completedKeywords and progressKeywords drive status inference from the
// last commit message touching a story file. Completion keywords win when
// both appear.
var (
	completedKeywords = []string{"complete", "done", "finished", "feat("}
	progressKeywords  = []string{"wip", "progress", "working", "chore("}
)

// InferStoryStatus maps a commit message to a story lifecycle status.
// Files with no matching keywords (or no history at all) are pending.
func InferStoryStatus(commitMessage string) types.StoryStatus {
	lower := strings.ToLower(commitMessage)
	for _, kw := range completedKeywords {
		if strings.Contains(lower, kw) {
			return types.StoryStatusCompleted
		}
	}
	for _, kw := range progressKeywords {
		if strings.Contains(lower, kw) {
			return types.StoryStatusInProgress
		}
	}
	return types.StoryStatusPending
}
