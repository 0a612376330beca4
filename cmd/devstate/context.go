package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/devstate/internal/lineage"
	"github.com/gao-dev/devstate/internal/storage"
	"github.com/gao-dev/devstate/internal/workflow"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Inspect workflow contexts, document usage, and the cache",
}

var (
	contextEpic  int
	contextStory int
)

// contextStoryArg returns the --story flag as a pointer, nil when unset.
func contextStoryArg(cmd *cobra.Command) *int {
	if cmd.Flags().Changed("story") {
		return &contextStory
	}
	return nil
}

var contextShowCmd = &cobra.Command{
	Use:   "show [workflow-id]",
	Short: "Show a workflow context",
	Long: `Show a workflow context by id, or the latest context for --epic
(optionally --story) when no id is given.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		var (
			wc      workflow.Context
			version int
			err     error
		)
		if len(args) == 1 {
			wc, version, err = e.Workflows.Load(ctx, args[0])
		} else if cmd.Flags().Changed("epic") {
			wc, version, err = e.Workflows.Latest(ctx, contextEpic, contextStoryArg(cmd))
		} else {
			fatal(fmt.Errorf("either a workflow id or --epic is required"))
		}
		if err != nil {
			fatal(err)
		}

		printContext(wc, version)
	},
}

var contextFeature string

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow contexts for an epic or feature",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		var (
			contexts []workflow.Context
			err      error
		)
		switch {
		case contextFeature != "":
			contexts, err = e.Workflows.ByFeature(ctx, contextFeature)
		case cmd.Flags().Changed("epic"):
			contexts, err = e.Workflows.ByEpic(ctx, contextEpic)
		default:
			fatal(fmt.Errorf("either --epic or --feature is required"))
		}
		if err != nil {
			fatal(err)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(contexts) == 0 {
			fmt.Printf("%s\n", gray("No workflow contexts"))
			return
		}
		for _, wc := range contexts {
			scope := fmt.Sprintf("%d", wc.EpicNum)
			if wc.StoryNum != nil {
				scope = fmt.Sprintf("%d.%d", wc.EpicNum, *wc.StoryNum)
			}
			fmt.Printf("%s %s %s %s\n",
				statusColor(wc.Status)("●"), wc.WorkflowID,
				wc.WorkflowName,
				gray(fmt.Sprintf("[%s, phase %s, %s]", scope, wc.CurrentPhase, wc.Status)))
		}
	},
}

var contextHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the version history of an epic or story's contexts",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		if !cmd.Flags().Changed("epic") {
			fatal(fmt.Errorf("--epic is required"))
		}

		versions, err := e.Workflows.Versions(ctx, contextEpic, contextStoryArg(cmd))
		if err != nil {
			fatal(err)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(versions) == 0 {
			fmt.Printf("%s\n", gray("No context history"))
			return
		}
		for _, v := range versions {
			fmt.Printf("v%-3d %s %s\n", v.Version, v.WorkflowID,
				gray(v.UpdatedAt.Format("2006-01-02 15:04:05")))
		}
	},
}

var (
	lineageArtifactType string
	lineageArtifactID   string
	lineageJSON         bool
)

var contextLineageCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Show which document versions fed an artifact",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		records, err := e.Lineage.ContextLineage(ctx, lineageArtifactType, lineageArtifactID)
		if err != nil {
			fatal(err)
		}

		report := lineageReport(lineageArtifactType, lineageArtifactID, records)
		if lineageJSON {
			out, err := report.JSON()
			if err != nil {
				fatal(err)
			}
			fmt.Println(out)
			return
		}
		fmt.Print(report.Markdown())
	},
}

var contextStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics and document usage totals",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		stats := e.Cache.Statistics()
		rate, err := e.Usage.HitRate(ctx)
		if err != nil {
			fatal(err)
		}
		topKeys, err := e.Usage.TopKeys(ctx, 10)
		if err != nil {
			fatal(err)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Context Cache ==="))
		fmt.Printf("  Entries: %d / %d\n", stats.Size, stats.MaxSize)
		fmt.Printf("  Memory:  %s\n", humanize.Bytes(uint64(stats.MemoryBytes)))
		fmt.Printf("  Hits / misses: %d / %d\n", stats.Hits, stats.Misses)
		fmt.Printf("  Evictions: %d, expirations: %d\n", stats.Evictions, stats.Expirations)

		fmt.Printf("\n%s\n\n", cyan("=== Document Usage ==="))
		fmt.Printf("  Recorded hit rate: %.1f%%\n", rate*100)
		if len(topKeys) == 0 {
			fmt.Printf("  %s\n", gray("No recorded accesses"))
		}
		for _, k := range topKeys {
			fmt.Printf("  %4d× %s %s\n", k.Accesses, k.ContextKey,
				gray(fmt.Sprintf("(%d cached)", k.CacheHits)))
		}
		fmt.Println()
	},
}

var clearCacheHistoryDays int

var contextClearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Clear the document cache, optionally pruning usage history",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		e.Cache.Clear()
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Cache cleared\n", green("✓"))

		if cmd.Flags().Changed("prune-history") {
			n, err := e.Usage.ClearHistory(ctx, clearCacheHistoryDays)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("%s Pruned %d usage record(s)\n", green("✓"), n)
		}
	},
}

func lineageReport(artifactType, artifactID string, records []*storage.UsageRecord) *lineage.Report {
	return &lineage.Report{
		Title:   fmt.Sprintf("Context lineage for %s %s", artifactType, artifactID),
		Records: records,
	}
}

func printContext(wc workflow.Context, version int) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s %s\n\n", cyan(wc.WorkflowName), gray("v"+fmt.Sprint(version)))
	fmt.Printf("  Workflow: %s\n", wc.WorkflowID)
	scope := fmt.Sprintf("epic %d", wc.EpicNum)
	if wc.StoryNum != nil {
		scope = fmt.Sprintf("story %d.%d", wc.EpicNum, *wc.StoryNum)
	}
	if wc.Feature != "" {
		scope += ", feature " + wc.Feature
	}
	fmt.Printf("  Scope:    %s\n", scope)
	fmt.Printf("  Phase:    %s (%s)\n", wc.CurrentPhase, statusColor(wc.Status)(string(wc.Status)))
	if len(wc.PhaseHistory) > 0 {
		fmt.Printf("  History:\n")
		for _, entry := range wc.PhaseHistory {
			duration := ""
			if entry.DurationSeconds != nil {
				duration = fmt.Sprintf(" (%.1fs)", *entry.DurationSeconds)
			}
			fmt.Printf("    %s %s%s\n", gray(entry.Timestamp.Format("15:04:05")), entry.Phase, duration)
		}
	}
	if len(wc.Artifacts) > 0 {
		fmt.Printf("  Artifacts: %d\n", len(wc.Artifacts))
	}
	if len(wc.Errors) > 0 {
		fmt.Printf("  Errors:    %d\n", len(wc.Errors))
	}
	fmt.Println()
}

func statusColor(status workflow.Status) func(...interface{}) string {
	switch status {
	case workflow.StatusCompleted:
		return color.New(color.FgGreen).SprintFunc()
	case workflow.StatusFailed:
		return color.New(color.FgRed).SprintFunc()
	case workflow.StatusPaused:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgCyan).SprintFunc()
	}
}

func init() {
	for _, cmd := range []*cobra.Command{contextShowCmd, contextListCmd, contextHistoryCmd} {
		cmd.Flags().IntVar(&contextEpic, "epic", 0, "epic number")
		cmd.Flags().IntVar(&contextStory, "story", 0, "story number")
	}
	contextListCmd.Flags().StringVar(&contextFeature, "feature", "", "feature name")

	contextLineageCmd.Flags().StringVar(&lineageArtifactType, "artifact-type", "code", "artifact type (epic|story|task|code|test|doc|other)")
	contextLineageCmd.Flags().StringVar(&lineageArtifactID, "artifact-id", "", "artifact identifier")
	contextLineageCmd.Flags().BoolVar(&lineageJSON, "json", false, "render as JSON")
	_ = contextLineageCmd.MarkFlagRequired("artifact-id")

	contextClearCacheCmd.Flags().IntVar(&clearCacheHistoryDays, "prune-history", 0, "also prune usage records older than N days (0 = all)")

	contextCmd.AddCommand(contextShowCmd)
	contextCmd.AddCommand(contextListCmd)
	contextCmd.AddCommand(contextHistoryCmd)
	contextCmd.AddCommand(contextLineageCmd)
	contextCmd.AddCommand(contextStatsCmd)
	contextCmd.AddCommand(contextClearCacheCmd)
	rootCmd.AddCommand(contextCmd)
}
