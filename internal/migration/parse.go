package migration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gao-dev/devstate/internal/types"
)

var (
	epicFileRe  = regexp.MustCompile(`^epic-(\d+)\.md$`)
	storyFileRe = regexp.MustCompile(`^story-(\d+)\.(\d+)\.md$`)

	epicHeadingRe = regexp.MustCompile(`(?m)^#\s+Epic\s+(\d+)(?::\s*(.+))?\s*$`)
	headingRe     = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	fieldRe       = regexp.MustCompile(`(?m)^\*\*([A-Za-z ]+)\*\*:\s*(.+)$`)
)

// ParseDocName classifies a filename as an epic or story document and
// extracts its numbers. storyNum is zero for epics.
func ParseDocName(name string) (epicNum, storyNum int, isStory, ok bool) {
	if m := epicFileRe.FindStringSubmatch(name); m != nil {
		epicNum, _ = strconv.Atoi(m[1])
		return epicNum, 0, false, true
	}
	if m := storyFileRe.FindStringSubmatch(name); m != nil {
		epicNum, _ = strconv.Atoi(m[1])
		storyNum, _ = strconv.Atoi(m[2])
		return epicNum, storyNum, true, true
	}
	return 0, 0, false, false
}

// frontmatter is the optional YAML block at the top of a legacy document.
type frontmatter struct {
	Status        string   `yaml:"status"`
	Owner         string   `yaml:"owner"`
	Priority      string   `yaml:"priority"`
	EstimateHours *float64 `yaml:"estimate_hours"`
}

// splitFrontmatter strips a leading "---" YAML block and returns it parsed
// alongside the remaining body. Documents without one get a zero value.
func splitFrontmatter(content string) (frontmatter, string, error) {
	var fm frontmatter
	if !strings.HasPrefix(content, "---\n") {
		return fm, content, nil
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, content, nil
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return fm, content, fmt.Errorf("invalid frontmatter: %w", err)
	}
	body := rest[end+4:]
	return fm, strings.TrimPrefix(body, "\n"), nil
}

// fields extracts the "**Name**: value" metadata lines from a body.
func fields(body string) map[string]string {
	out := map[string]string{}
	for _, m := range fieldRe.FindAllStringSubmatch(body, -1) {
		out[strings.ToLower(strings.TrimSpace(m[1]))] = strings.TrimSpace(m[2])
	}
	return out
}

// ParseEpicFile builds an epic from a legacy epic-<N>.md document. The
// epic number comes from the filename; title, status, and totals come
// from the body with documented defaults.
func ParseEpicFile(filename, content string) (*types.Epic, error) {
	m := epicFileRe.FindStringSubmatch(filename)
	if m == nil {
		return nil, fmt.Errorf("not an epic file: %s", filename)
	}
	epicNum, _ := strconv.Atoi(m[1])

	fm, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	epic := &types.Epic{
		EpicNum: epicNum,
		Title:   fmt.Sprintf("Epic %d", epicNum),
		Status:  types.EpicStatusPlanning,
	}

	if h := epicHeadingRe.FindStringSubmatch(body); h != nil && h[2] != "" {
		epic.Title = strings.TrimSpace(h[2])
	} else if h := headingRe.FindStringSubmatch(body); h != nil {
		epic.Title = strings.TrimSpace(h[1])
	}

	f := fields(body)
	status := fm.Status
	if status == "" {
		status = f["status"]
	}
	if status != "" {
		s := normalizeEpicStatus(status)
		if !s.IsValid() {
			return nil, fmt.Errorf("%s: unknown status %q", filename, status)
		}
		epic.Status = s
	}
	if v, ok := f["total stories"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: bad total stories %q", filename, v)
		}
		epic.TotalStories = n
	}

	return epic, nil
}

// ParseStoryFile builds a story from a legacy story-<E>.<S>.md document.
// Status is left unset; the caller infers it from git history unless the
// frontmatter pins one.
func ParseStoryFile(filename, content string) (*types.Story, error) {
	m := storyFileRe.FindStringSubmatch(filename)
	if m == nil {
		return nil, fmt.Errorf("not a story file: %s", filename)
	}
	epicNum, _ := strconv.Atoi(m[1])
	storyNum, _ := strconv.Atoi(m[2])

	fm, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	story := &types.Story{
		EpicNum:  epicNum,
		StoryNum: storyNum,
		Title:    fmt.Sprintf("Story %d.%d", epicNum, storyNum),
		Priority: types.PriorityP2,
	}

	if h := headingRe.FindStringSubmatch(body); h != nil {
		title := strings.TrimSpace(h[1])
		// Drop a "Story E.S:" prefix when present.
		if idx := strings.Index(title, ":"); idx >= 0 &&
			strings.HasPrefix(strings.ToLower(title), "story ") {
			title = strings.TrimSpace(title[idx+1:])
		}
		if title != "" {
			story.Title = title
		}
	}

	f := fields(body)
	owner := fm.Owner
	if owner == "" {
		owner = f["owner"]
	}
	story.Assignee = owner

	priority := fm.Priority
	if priority == "" {
		priority = f["priority"]
	}
	if priority != "" {
		p := types.Priority(strings.ToUpper(priority))
		if !p.IsValid() {
			return nil, fmt.Errorf("%s: unknown priority %q", filename, priority)
		}
		story.Priority = p
	}

	if fm.EstimateHours != nil {
		story.EstimateHours = fm.EstimateHours
	} else if v, ok := f["estimate"]; ok {
		hours, err := parseHours(v)
		if err != nil {
			return nil, fmt.Errorf("%s: bad estimate %q", filename, v)
		}
		story.EstimateHours = &hours
	}

	if fm.Status != "" {
		s := normalizeStoryStatus(fm.Status)
		if !s.IsValid() {
			return nil, fmt.Errorf("%s: unknown status %q", filename, fm.Status)
		}
		story.Status = s
	}

	return story, nil
}

// parseHours accepts "4", "4.5", or "4 hours".
func parseHours(v string) (float64, error) {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "hours"))
	v = strings.TrimSpace(strings.TrimSuffix(v, "hour"))
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

func normalizeEpicStatus(v string) types.EpicStatus {
	return types.EpicStatus(normalizeStatusToken(v))
}

func normalizeStoryStatus(v string) types.StoryStatus {
	return types.StoryStatus(normalizeStatusToken(v))
}

// normalizeStatusToken maps human variants ("In Progress") onto the
// canonical snake_case enum values.
func normalizeStatusToken(v string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), " ", "_")
}
