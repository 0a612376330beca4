package docs

import (
	"fmt"
	"time"

	"github.com/gao-dev/devstate/internal/types"
)

func prdLightweight(f *types.Feature) string {
	return fmt.Sprintf(`# %s — PRD

## Problem

%s

## Goals

- TBD

## Out of Scope

- TBD
`, f.Name, orTBD(f.Description))
}

func prdFull(f *types.Feature) string {
	return fmt.Sprintf(`# %s — PRD

## Problem Statement

%s

## Goals

- TBD

## Non-Goals

- TBD

## User Stories

- TBD

## Success Metrics

- TBD

## Risks & Mitigations

- TBD

## Rollout Plan

- TBD
`, f.Name, orTBD(f.Description))
}

func changelogSeed(f *types.Feature) string {
	return fmt.Sprintf("# Changelog — %s\n\n## %s\n\n- Feature created.\n",
		f.Name, time.Now().Format("2006-01-02"))
}

func readmeSeed(f *types.Feature) string {
	return fmt.Sprintf("# %s\n\n%s\n\nSee [PRD.md](PRD.md) for requirements.\n",
		f.Name, orTBD(f.Description))
}

func architectureSeed(f *types.Feature) string {
	return fmt.Sprintf(`# %s — Architecture

## Overview

TBD

## Components

TBD

## Data Flow

TBD
`, f.Name)
}

func migrationGuideSeed(f *types.Feature) string {
	return fmt.Sprintf("# %s — Migration Guide\n\n## Steps\n\nTBD\n", f.Name)
}

func orTBD(s string) string {
	if s == "" {
		return "TBD"
	}
	return s
}
