package docs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gao-dev/devstate/internal/types"
)

// Violation is one missing or malformed path in a feature's structure.
type Violation struct {
	Feature string `json:"feature"`
	Path    string `json:"path"`
	Reason  string `json:"reason"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Feature, v.Path, v.Reason)
}

// Validator checks feature document trees against their scale level. It
// is stateless: every call reads the filesystem fresh.
type Validator struct {
	root      string
	templates PathTemplates
}

// NewValidator builds a validator rooted at the project directory.
func NewValidator(root string, templates PathTemplates) *Validator {
	return &Validator{root: root, templates: templates}
}

// ValidateStructure returns the violations for one feature. An empty
// slice means the structure is compliant. Scale 0 features have no
// structural requirements.
func (v *Validator) ValidateStructure(feature *types.Feature) []Violation {
	var violations []Violation

	require := func(rel, reason string) {
		if _, err := os.Stat(filepath.Join(v.root, rel)); err != nil {
			violations = append(violations, Violation{
				Feature: feature.Name, Path: rel, Reason: reason})
		}
	}

	vars := Vars{FeatureName: feature.Name}

	switch {
	case feature.ScaleLevel <= 0:
		return nil
	case feature.ScaleLevel == 1:
		require(Render(v.templates.BugsFolder, Vars{}), "bugs folder missing")
		return violations
	}

	require(Render(v.templates.FeatureFolder, vars), "feature folder missing")
	require(Render(v.templates.PRDLocation, vars), "PRD.md missing")
	require(Render(v.templates.ChangelogLocation, vars), "CHANGELOG.md missing")
	require(Render(v.templates.ReadmeLocation, vars), "README.md missing")
	require(Render(v.templates.QAFolder, vars), "QA folder missing")

	if feature.ScaleLevel >= 3 {
		require(Render(v.templates.ArchitectureLocation, vars), "ARCHITECTURE.md missing")
		require(filepath.Join(Render(v.templates.FeatureFolder, vars), "epics"), "epics folder missing")
		require(Render(v.templates.RetrospectivesFolder, vars), "retrospectives folder missing")
	}
	if feature.ScaleLevel >= 4 {
		require(Render(v.templates.CeremoniesFolder, vars), "ceremonies folder missing")
		require(Render(v.templates.MigrationGuide, vars), "MIGRATION_GUIDE.md missing")
	}

	return violations
}

// ValidateAll validates a set of features and returns every violation.
func (v *Validator) ValidateAll(features []*types.Feature) []Violation {
	var all []Violation
	for _, f := range features {
		all = append(all, v.ValidateStructure(f)...)
	}
	return all
}
