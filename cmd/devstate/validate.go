package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/devstate/internal/docs"
	"github.com/gao-dev/devstate/internal/types"
)

var (
	validateFeature string
	validateAll     bool
)

var validateStructureCmd = &cobra.Command{
	Use:   "validate-structure",
	Short: "Check feature document trees against their scale levels",
	Long: `Check that every feature's document folder contains what its scale
level requires. Exits 1 when any violation is found.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		var violations []docs.Violation
		switch {
		case validateFeature != "":
			f, err := e.Store.GetFeature(ctx, validateFeature)
			if err != nil {
				fatal(err)
			}
			violations = e.Validator.ValidateStructure(f)
		case validateAll:
			features, err := e.Store.ListFeatures(ctx, types.FeatureFilter{})
			if err != nil {
				fatal(err)
			}
			violations = e.Validator.ValidateAll(features)
		default:
			fatal(fmt.Errorf("either --feature or --all is required"))
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		if len(violations) == 0 {
			fmt.Printf("%s Document structure is compliant\n", green("✓"))
			return
		}

		fmt.Printf("%s %d violation(s) found:\n\n", red("✗"), len(violations))
		for _, v := range violations {
			fmt.Printf("  %s %s\n", red("•"), v.Reason)
			fmt.Printf("    %s\n", gray(fmt.Sprintf("feature %s: %s", v.Feature, v.Path)))
		}
		os.Exit(1)
	},
}

func init() {
	validateStructureCmd.Flags().StringVar(&validateFeature, "feature", "", "validate a single feature")
	validateStructureCmd.Flags().BoolVar(&validateAll, "all", false, "validate every tracked feature")
	rootCmd.AddCommand(validateStructureCmd)
}
