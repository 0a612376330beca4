// Package docs manages the on-disk document tree: scale-dependent feature
// layouts, path templates, seed documents, and structure validation. It
// writes files only; commits belong to the atomic envelope unless a caller
// explicitly opts in to auto-commit.
package docs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/gao-dev/devstate/internal/git"
	"github.com/gao-dev/devstate/internal/types"
)

// Manager creates and validates feature document structures.
type Manager struct {
	root      string
	templates PathTemplates
	registry  Registry
	repo      *git.Repo
	log       logrus.FieldLogger
}

// NewManager builds a structure manager rooted at the project directory.
// registry may be nil; repo is only needed for auto-commit.
func NewManager(root string, templates PathTemplates, registry Registry, repo *git.Repo, log logrus.FieldLogger) *Manager {
	if registry == nil {
		registry = NopRegistry{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{root: root, templates: templates, registry: registry, repo: repo, log: log}
}

// Templates returns the manager's path template registry.
func (m *Manager) Templates() PathTemplates {
	return m.templates
}

// CreateFeatureStructure creates the folder layout and seed documents for
// a feature according to its scale level. Scale 0 creates nothing; scale 1
// only ensures the bugs folder. When autoCommit is set the new files are
// committed; inside an atomic operation it must be false so the envelope
// controls the commit.
func (m *Manager) CreateFeatureStructure(ctx context.Context, feature *types.Feature, autoCommit bool) ([]string, error) {
	if feature.ScaleLevel < 0 || feature.ScaleLevel > 4 {
		return nil, &types.ValidationError{Field: "scale_level",
			Reason: fmt.Sprintf("scale level must be 0-4, got %d", feature.ScaleLevel)}
	}

	var created []string

	switch feature.ScaleLevel {
	case 0:
		return nil, nil
	case 1:
		dir := filepath.Join(m.root, Render(m.templates.BugsFolder, Vars{}))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create bugs folder: %w", err)
		}
		created = append(created, dir)
	default:
		paths, err := m.createFeatureFolder(ctx, feature)
		if err != nil {
			return nil, err
		}
		created = paths
	}

	if autoCommit && m.repo != nil && len(created) > 0 {
		if err := m.repo.AddAll(ctx); err != nil {
			return created, err
		}
		msg := git.Message{Type: git.CommitDocs, Scope: feature.Name,
			Subject: fmt.Sprintf("scaffold document structure (scale %d)", feature.ScaleLevel)}
		if _, err := m.repo.Commit(ctx, msg.Render(), false); err != nil {
			return created, err
		}
	}

	m.log.WithFields(logrus.Fields{
		"feature":     feature.Name,
		"scale_level": feature.ScaleLevel,
		"paths":       len(created),
	}).Info("created feature document structure")
	return created, nil
}

func (m *Manager) createFeatureFolder(ctx context.Context, feature *types.Feature) ([]string, error) {
	vars := Vars{FeatureName: feature.Name}
	var created []string

	dirs := []string{
		Render(m.templates.FeatureFolder, vars),
		Render(m.templates.QAFolder, vars),
	}
	if feature.ScaleLevel >= 3 {
		dirs = append(dirs,
			filepath.Join(Render(m.templates.FeatureFolder, vars), "epics"),
			Render(m.templates.RetrospectivesFolder, vars))
	}
	if feature.ScaleLevel >= 4 {
		dirs = append(dirs, Render(m.templates.CeremoniesFolder, vars))
	}

	for _, d := range dirs {
		abs := filepath.Join(m.root, d)
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
		created = append(created, abs)
	}

	prd := prdLightweight(feature)
	if feature.ScaleLevel >= 3 {
		prd = prdFull(feature)
	}

	files := map[string]string{
		Render(m.templates.PRDLocation, vars):       prd,
		Render(m.templates.ChangelogLocation, vars): changelogSeed(feature),
		Render(m.templates.ReadmeLocation, vars):    readmeSeed(feature),
	}
	if feature.ScaleLevel >= 3 {
		files[Render(m.templates.ArchitectureLocation, vars)] = architectureSeed(feature)
	}
	if feature.ScaleLevel >= 4 {
		files[Render(m.templates.MigrationGuide, vars)] = migrationGuideSeed(feature)
	}

	for rel, body := range files {
		abs := filepath.Join(m.root, rel)
		if err := os.WriteFile(abs, []byte(body), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", rel, err)
		}
		created = append(created, abs)
	}

	// Registry registration is best effort: an unavailable registry must
	// not fail structure creation.
	prdPath := Render(m.templates.PRDLocation, vars)
	if err := m.registry.Register(ctx, "prd", feature.Name, prdPath); err != nil {
		m.log.WithError(err).WithField("feature", feature.Name).
			Warn("document registry unavailable, skipping PRD registration")
	}

	return created, nil
}

// EpicPath renders the folder for an epic under a feature.
func (m *Manager) EpicPath(feature string, epicNum int, epicTitle string) string {
	return Render(m.templates.EpicFolder, Vars{
		FeatureName: feature, Epic: epicNum, EpicName: Slug(epicTitle)})
}

// WriteEpicOverview seeds the epic README under a feature tree.
func (m *Manager) WriteEpicOverview(feature string, epic *types.Epic) (string, error) {
	vars := Vars{FeatureName: feature, Epic: epic.EpicNum, EpicName: Slug(epic.Title)}
	rel := Render(m.templates.EpicOverview, vars)
	abs := filepath.Join(m.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("failed to create epic folder: %w", err)
	}
	body := fmt.Sprintf("# Epic %d: %s\n\n**Status**: %s\n**Total Stories**: %d\n",
		epic.EpicNum, epic.Title, epic.Status, epic.TotalStories)
	if err := os.WriteFile(abs, []byte(body), 0644); err != nil {
		return "", fmt.Errorf("failed to write epic overview: %w", err)
	}
	return rel, nil
}

// WriteStoryDocument seeds the story markdown file under its epic folder.
// epicTitle is needed to render the epic folder segment.
func (m *Manager) WriteStoryDocument(feature, epicTitle string, story *types.Story) (string, error) {
	vars := Vars{FeatureName: feature, Epic: story.EpicNum,
		EpicName: Slug(epicTitle), Story: story.StoryNum}
	rel := Render(m.templates.StoryLocation, vars)
	abs := filepath.Join(m.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("failed to create stories folder: %w", err)
	}
	body := fmt.Sprintf("# Story %d.%d: %s\n\n**Status**: %s\n**Priority**: %s\n",
		story.EpicNum, story.StoryNum, story.Title, story.Status, story.Priority)
	if story.Assignee != "" {
		body += fmt.Sprintf("**Owner**: %s\n", story.Assignee)
	}
	if story.EstimateHours != nil {
		body += fmt.Sprintf("**Estimate**: %g hours\n", *story.EstimateHours)
	}
	if err := os.WriteFile(abs, []byte(body), 0644); err != nil {
		return "", fmt.Errorf("failed to write story document: %w", err)
	}
	return rel, nil
}
