package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/devstate/internal/consistency"
)

var consistencyVerbose bool

var consistencyCheckCmd = &cobra.Command{
	Use:   "consistency-check",
	Short: "Detect divergence between documents, database, and git",
	Long: `Compare the three stores and report divergence in four classes:
uncommitted document changes, database rows whose files are gone,
document files with no database row, and status mismatches between
documents and database. Exits 1 when any issue is found.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		report, err := e.Consistency.Check(ctx)
		if err != nil {
			fatal(err)
		}

		printReport(report, consistencyVerbose)
		if report.HasIssues() {
			os.Exit(1)
		}
	},
}

var (
	repairNoCommit bool
	repairDryRun   bool
)

var consistencyRepairCmd = &cobra.Command{
	Use:   "consistency-repair",
	Short: "Repair detected divergence, treating documents as the source of truth",
	Long: `Run a consistency check and repair what it finds: orphaned database
rows are deleted, unregistered documents are parsed and registered, and
mismatched statuses are reset from the documents. Repairs are committed
unless --no-commit is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		report, err := e.Consistency.Check(ctx)
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		if !report.HasIssues() {
			fmt.Printf("%s No issues to repair\n", green("✓"))
			return
		}

		if repairDryRun {
			fmt.Printf("%s Dry run: %d issue(s) would be repaired\n", gray("→"), report.Total())
			printReport(report, true)
			return
		}

		result, err := e.Consistency.Repair(ctx, report, !repairNoCommit)
		if err != nil {
			if result != nil {
				for _, repairErr := range result.Errors {
					fmt.Fprintf(os.Stderr, "  %s %v\n", color.New(color.FgYellow).Sprint("⚠"), repairErr)
				}
			}
			fatal(err)
		}

		fmt.Printf("\n%s Repair complete\n\n", green("✓"))
		fmt.Printf("  Orphans deleted:   %d\n", result.OrphansDeleted)
		fmt.Printf("  Files registered:  %d\n", result.FilesRegistered)
		fmt.Printf("  Statuses repaired: %d\n", result.StatusesRepaired)
		if result.CommitSHA != "" {
			fmt.Printf("  Commit:            %s\n", result.CommitSHA)
		}
		for _, repairErr := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %s %v\n", color.New(color.FgYellow).Sprint("⚠"), repairErr)
		}
		fmt.Println()
	},
}

func printReport(report *consistency.Report, verbose bool) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	if !report.HasIssues() {
		fmt.Printf("%s All three stores are consistent\n", green("✓"))
		return
	}

	fmt.Printf("%s %d issue(s) found\n\n", red("✗"), report.Total())

	sections := []struct {
		name   string
		issues []consistency.Issue
	}{
		{"Uncommitted changes", report.UncommittedChanges},
		{"Orphaned records", report.OrphanedRecords},
		{"Unregistered files", report.UnregisteredFiles},
		{"State mismatches", report.StateMismatches},
	}
	for _, section := range sections {
		if len(section.issues) == 0 {
			continue
		}
		fmt.Printf("  %s (%d)\n", yellow(section.name), len(section.issues))
		if !verbose {
			continue
		}
		for _, issue := range section.issues {
			marker := yellow("⚠")
			if issue.Severity == consistency.SeverityError {
				marker = red("✗")
			}
			fmt.Printf("    %s %s %s\n", marker, issue.Detail, gray(issue.Path))
		}
	}
	fmt.Println()
}

func init() {
	consistencyCheckCmd.Flags().BoolVar(&consistencyVerbose, "verbose", false, "list each issue")
	rootCmd.AddCommand(consistencyCheckCmd)

	consistencyRepairCmd.Flags().BoolVar(&repairNoCommit, "no-commit", false, "repair without creating a commit")
	consistencyRepairCmd.Flags().BoolVar(&repairDryRun, "dry-run", false, "report what would be repaired without writing")
	rootCmd.AddCommand(consistencyRepairCmd)
}
