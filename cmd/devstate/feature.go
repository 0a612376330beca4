package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/devstate/internal/types"
)

var (
	createFeatureScale       int
	createFeatureScope       string
	createFeatureDescription string
	createFeatureOwner       string
	createFeatureMessage     string
)

var createFeatureCmd = &cobra.Command{
	Use:   "create-feature <name>",
	Short: "Create a feature with its document structure",
	Long: `Create a feature atomically: scaffold its document folder per the scale
level, insert the database row, and commit both in one operation.

Scale levels:
  0  no documents
  1  shared bugs folder only
  2  feature folder with lightweight PRD
  3  adds ARCHITECTURE.md, epics/, retrospectives/
  4  adds ceremonies/ and MIGRATION_GUIDE.md`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		feature := &types.Feature{
			Name:        args[0],
			Scope:       types.FeatureScope(createFeatureScope),
			Status:      types.FeatureStatusPlanning,
			ScaleLevel:  createFeatureScale,
			Description: createFeatureDescription,
			Owner:       createFeatureOwner,
		}

		sha, err := e.Atomic.CreateFeature(ctx, feature, createFeatureMessage)
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("\n%s Created feature %s\n\n", green("✓"), cyan(feature.Name))
		fmt.Printf("  Scale level: %d\n", feature.ScaleLevel)
		fmt.Printf("  Commit:      %s\n", sha)
		fmt.Println()
	},
}

var (
	listFeaturesScope  string
	listFeaturesStatus string
)

var listFeaturesCmd = &cobra.Command{
	Use:   "list-features",
	Short: "List tracked features",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		filter := types.FeatureFilter{}
		if listFeaturesScope != "" {
			scope := types.FeatureScope(listFeaturesScope)
			filter.Scope = &scope
		}
		if listFeaturesStatus != "" {
			status := types.FeatureStatus(listFeaturesStatus)
			filter.Status = &status
		}

		features, err := e.Store.ListFeatures(ctx, filter)
		if err != nil {
			fatal(err)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(features) == 0 {
			fmt.Printf("%s\n", gray("No features"))
			return
		}

		for _, f := range features {
			fmt.Printf("%s %s %s\n",
				featureStatusColor(f.Status)("●"),
				f.Name,
				gray(fmt.Sprintf("[%s, scale %d, %s]", f.Scope, f.ScaleLevel, f.Status)))
			if f.Description != "" {
				fmt.Printf("  %s\n", gray(f.Description))
			}
		}
	},
}

func featureStatusColor(status types.FeatureStatus) func(...interface{}) string {
	switch status {
	case types.FeatureStatusActive:
		return color.New(color.FgGreen).SprintFunc()
	case types.FeatureStatusComplete:
		return color.New(color.FgCyan).SprintFunc()
	case types.FeatureStatusArchived:
		return color.New(color.FgHiBlack).SprintFunc()
	default:
		return color.New(color.FgYellow).SprintFunc()
	}
}

func init() {
	createFeatureCmd.Flags().IntVar(&createFeatureScale, "scale-level", 2, "documentation scale level (0-4)")
	createFeatureCmd.Flags().StringVar(&createFeatureScope, "scope", "feature", "feature scope (mvp|feature)")
	createFeatureCmd.Flags().StringVar(&createFeatureDescription, "description", "", "feature description")
	createFeatureCmd.Flags().StringVar(&createFeatureOwner, "owner", "", "feature owner")
	createFeatureCmd.Flags().StringVarP(&createFeatureMessage, "message", "m", "", "override the commit message")
	rootCmd.AddCommand(createFeatureCmd)

	listFeaturesCmd.Flags().StringVar(&listFeaturesScope, "scope", "", "filter by scope (mvp|feature)")
	listFeaturesCmd.Flags().StringVar(&listFeaturesStatus, "status", "", "filter by status")
	rootCmd.AddCommand(listFeaturesCmd)
}
