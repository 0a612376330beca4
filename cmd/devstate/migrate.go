package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/devstate/internal/migration"
)

var (
	migrateDryRun    bool
	migrateNoBranch  bool
	migrateAutoMerge bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Backfill the state database from existing documents",
	Long: `Discover epic and story documents under docs/, parse them, and backfill
the state database in four sequential phases: schema, epics, stories,
validation. Each phase ends with a checkpoint commit on the migration
branch; any failure rolls the branch back.

Story statuses come from the document frontmatter when present, or are
inferred from the last commit message touching the file.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		autoMerge := e.Config.Migration.AutoMerge
		if cmd.Flags().Changed("auto-merge") {
			autoMerge = migrateAutoMerge
		}

		result, err := e.Migration.Run(ctx, migration.Options{
			DryRun:       migrateDryRun,
			CreateBranch: !migrateNoBranch,
			AutoMerge:    autoMerge,
			Branch:       e.Config.Migration.Branch,
		})
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		if result.DryRun {
			fmt.Printf("%s Dry run: %d epic(s) and %d story(ies) would be migrated\n",
				gray("→"), result.EpicsMigrated, result.StoriesMigrated)
			return
		}

		if !result.Success {
			fmt.Fprintf(os.Stderr, "%s Migration failed after phase %d: %v\n",
				red("✗"), result.PhaseCompleted, result.Err)
			if result.RollbackPerformed {
				fmt.Fprintf(os.Stderr, "  %s\n", gray("branch rolled back"))
			}
			os.Exit(1)
		}

		fmt.Printf("\n%s Migration complete in %s\n\n", green("✓"), result.Duration.Round(time.Millisecond))
		fmt.Printf("  Epics:   %d migrated, %d already present\n", result.EpicsMigrated, result.EpicsSkipped)
		fmt.Printf("  Stories: %d migrated, %d already present\n", result.StoriesMigrated, result.StoriesSkipped)
		fmt.Printf("  Checkpoints: %d\n", len(result.Checkpoints))
		fmt.Println()
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "report what would be migrated without writing")
	migrateCmd.Flags().BoolVar(&migrateNoBranch, "no-branch", false, "migrate on the current branch")
	migrateCmd.Flags().BoolVar(&migrateAutoMerge, "auto-merge", true, "merge the migration branch on success")
	rootCmd.AddCommand(migrateCmd)
}
