package docs

import (
	"fmt"
	"strings"
	"time"
)

// Vars are the substitution variables a path template may reference.
// Zero-valued fields render as empty strings.
type Vars struct {
	FeatureName string
	Epic        int
	EpicName    string
	Story       int
	Date        time.Time
}

// PathTemplates is the registry of document path templates. File-path
// fields end in Location or Overview; directory fields end in Folder
// or Dir.
type PathTemplates struct {
	PRDLocation          string
	ArchitectureLocation string
	ReadmeLocation       string
	ChangelogLocation    string
	MigrationGuide       string
	FeatureFolder        string
	EpicFolder           string
	EpicOverview         string
	StoryLocation        string
	StoryContextLocation string
	QAFolder             string
	RetrospectivesFolder string
	CeremoniesFolder     string
	BugsFolder           string
	LegacyEpicLocation   string
	LegacyStoryLocation  string
	CodingStandards      string
	GlobalPRDLocation    string
	GlobalArchitecture   string
}

// DefaultTemplates returns the project-relative layout used when no
// configuration overrides are present.
func DefaultTemplates() PathTemplates {
	return PathTemplates{
		PRDLocation:          "docs/features/{{feature_name}}/PRD.md",
		ArchitectureLocation: "docs/features/{{feature_name}}/ARCHITECTURE.md",
		ReadmeLocation:       "docs/features/{{feature_name}}/README.md",
		ChangelogLocation:    "docs/features/{{feature_name}}/CHANGELOG.md",
		MigrationGuide:       "docs/features/{{feature_name}}/MIGRATION_GUIDE.md",
		FeatureFolder:        "docs/features/{{feature_name}}",
		EpicFolder:           "docs/features/{{feature_name}}/epics/{{epic}}-{{epic_name}}",
		EpicOverview:         "docs/features/{{feature_name}}/epics/{{epic}}-{{epic_name}}/README.md",
		StoryLocation:        "docs/features/{{feature_name}}/epics/{{epic}}-{{epic_name}}/stories/story-{{epic}}.{{story}}.md",
		StoryContextLocation: "docs/features/{{feature_name}}/epics/{{epic}}-{{epic_name}}/context/story-{{epic}}.{{story}}.xml",
		QAFolder:             "docs/features/{{feature_name}}/QA",
		RetrospectivesFolder: "docs/features/{{feature_name}}/retrospectives",
		CeremoniesFolder:     "docs/features/{{feature_name}}/ceremonies",
		BugsFolder:           "docs/bugs",
		LegacyEpicLocation:   "docs/epics/epic-{{epic}}.md",
		LegacyStoryLocation:  "docs/stories/story-{{epic}}.{{story}}.md",
		CodingStandards:      "docs/CODING_STANDARDS.md",
		GlobalPRDLocation:    "docs/PRD.md",
		GlobalArchitecture:   "docs/ARCHITECTURE.md",
	}
}

// Render substitutes {{variable}} placeholders in a template. Unknown
// placeholders are left intact so a bad template is visible in the
// resulting path instead of silently collapsing.
func Render(template string, vars Vars) string {
	r := strings.NewReplacer(
		"{{feature_name}}", vars.FeatureName,
		"{{epic}}", fmt.Sprintf("%d", vars.Epic),
		"{{epic_name}}", vars.EpicName,
		"{{story}}", fmt.Sprintf("%d", vars.Story),
		"{{date}}", vars.Date.Format("2006-01-02"),
	)
	return r.Replace(template)
}

// Slug normalizes a title into a filesystem-safe lowercase token.
func Slug(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
