package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/docs"
	"github.com/gao-dev/devstate/internal/workflow"
)

// DocumentLoader resolves a semantic document for a workflow context.
// ok=false means the document does not exist; that is not an error.
type DocumentLoader func(ctx context.Context, docType string, wc *workflow.Context) (content string, ok bool, err error)

// FSLoader is the default loader: it asks the document registry for a
// canonical path first and falls back to the filesystem layout
// conventions when the registry has no answer.
type FSLoader struct {
	root      string
	templates docs.PathTemplates
	registry  docs.Registry
	log       logrus.FieldLogger
}

// NewFSLoader builds the default loader rooted at the project directory.
// A nil registry disables the registry lookup step.
func NewFSLoader(root string, templates docs.PathTemplates, registry docs.Registry, log logrus.FieldLogger) *FSLoader {
	if registry == nil {
		registry = docs.NopRegistry{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FSLoader{root: root, templates: templates, registry: registry, log: log}
}

// Load implements DocumentLoader.
func (l *FSLoader) Load(ctx context.Context, docType string, wc *workflow.Context) (string, bool, error) {
	if path, err := l.registry.Lookup(ctx, docType, wc.Feature); err != nil {
		l.log.WithError(err).WithField("doc_type", docType).Warn("document registry lookup failed, falling back to filesystem")
	} else if path != "" {
		if content, ok := l.readFile(path); ok {
			return content, true, nil
		}
	}
	return l.loadByConvention(docType, wc)
}

func (l *FSLoader) loadByConvention(docType string, wc *workflow.Context) (string, bool, error) {
	vars := docs.Vars{FeatureName: wc.Feature, Epic: wc.EpicNum}
	if wc.StoryNum != nil {
		vars.Story = *wc.StoryNum
	}

	switch docType {
	case KeyPRD:
		if wc.Feature != "" {
			if content, ok := l.readFile(docs.Render(l.templates.PRDLocation, vars)); ok {
				return content, true, nil
			}
		}
		content, ok := l.readFile(l.templates.GlobalPRDLocation)
		return content, ok, nil

	case KeyArchitecture:
		if wc.Feature != "" {
			if content, ok := l.readFile(docs.Render(l.templates.ArchitectureLocation, vars)); ok {
				return content, true, nil
			}
		}
		content, ok := l.readFile(l.templates.GlobalArchitecture)
		return content, ok, nil

	case KeyEpicDefinition:
		if wc.Feature != "" {
			if content, ok := l.glob(l.templates.EpicOverview, vars); ok {
				return content, true, nil
			}
		}
		content, ok := l.readFile(docs.Render(l.templates.LegacyEpicLocation, vars))
		return content, ok, nil

	case KeyStoryDefinition:
		if wc.StoryNum == nil {
			return "", false, nil
		}
		return l.loadStory(vars)

	case KeyCodingStandards:
		content, ok := l.readFile(l.templates.CodingStandards)
		return content, ok, nil

	case KeyAcceptanceCriteria:
		if wc.StoryNum == nil {
			return "", false, nil
		}
		story, ok, err := l.loadStory(vars)
		if err != nil || !ok {
			return "", false, err
		}
		section, ok := extractSection(story, "Acceptance Criteria")
		return section, ok, nil
	}

	return "", false, nil
}

func (l *FSLoader) loadStory(vars docs.Vars) (string, bool, error) {
	if vars.FeatureName != "" {
		if content, ok := l.glob(l.templates.StoryLocation, vars); ok {
			return content, true, nil
		}
	}
	content, ok := l.readFile(docs.Render(l.templates.LegacyStoryLocation, vars))
	return content, ok, nil
}

// glob renders a template whose epic folder segment carries the epic
// title slug, which the workflow context does not know, and matches it
// with a wildcard instead.
func (l *FSLoader) glob(template string, vars docs.Vars) (string, bool) {
	vars.EpicName = "*"
	matches, err := filepath.Glob(filepath.Join(l.root, docs.Render(template, vars)))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (l *FSLoader) readFile(rel string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(l.root, rel))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// extractSection returns the body of a markdown "## <heading>" section,
// from the heading line to the next heading of the same or higher level.
func extractSection(doc, heading string) (string, bool) {
	lines := strings.Split(doc, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") &&
			strings.EqualFold(strings.TrimSpace(strings.TrimLeft(trimmed, "#")), heading) {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}

	level := len(lines[start]) - len(strings.TrimLeft(lines[start], "#"))
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "#") {
			if l := len(trimmed) - len(strings.TrimLeft(trimmed, "#")); l <= level {
				end = i
				break
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n")), true
}
