package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gao-dev/devstate/internal/types"
)

var actionItemsCmd = &cobra.Command{
	Use:   "action-items",
	Short: "Manage ceremony and review follow-ups",
}

var (
	actionItemsStatus   string
	actionItemsPriority string
	actionItemsEpic     int
)

var actionItemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List action items",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		filter := types.ActionItemFilter{}
		if actionItemsStatus != "" {
			status := types.ActionItemStatus(actionItemsStatus)
			filter.Status = &status
		}
		if actionItemsPriority != "" {
			priority := types.ActionItemPriority(actionItemsPriority)
			filter.Priority = &priority
		}
		if cmd.Flags().Changed("epic") {
			filter.EpicNum = &actionItemsEpic
		}

		items, err := e.Store.ListActionItems(ctx, filter)
		if err != nil {
			fatal(err)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(items) == 0 {
			fmt.Printf("%s\n", gray("No action items"))
			return
		}

		for _, item := range items {
			scope := ""
			if item.EpicNum != nil {
				scope = fmt.Sprintf(" epic %d", *item.EpicNum)
			}
			fmt.Printf("%s %s %s %s\n",
				priorityColor(item.Priority)(string(item.Priority)),
				item.ID, item.Title,
				gray(fmt.Sprintf("[%s%s]", item.Status, scope)))
		}
	},
}

var (
	promoteStory int
	promoteForce bool
)

var actionItemsPromoteCmd = &cobra.Command{
	Use:   "promote <id>",
	Short: "Promote a critical action item to a story",
	Long: `Promote a critical action item to a P0 story in its epic. Each epic
accepts one promotion; --force bypasses the limit.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		story, err := e.Store.PromoteActionItem(ctx, args[0], promoteStory, promoteForce)
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Promoted to story %d.%d: %s\n", green("✓"), story.EpicNum, story.StoryNum, story.Title)
	},
}

var actionItemsCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark an action item completed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		if err := e.Store.CompleteActionItem(ctx, args[0]); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Completed %s\n", color.New(color.FgGreen).Sprint("✓"), args[0])
	},
}

var deferUntil string

var actionItemsDeferCmd = &cobra.Command{
	Use:   "defer <id>",
	Short: "Push an action item's due date",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		until, err := time.Parse("2006-01-02", deferUntil)
		if err != nil {
			fatal(fmt.Errorf("invalid --until date (want YYYY-MM-DD): %w", err))
		}

		if err := e.Store.DeferActionItem(ctx, args[0], until); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Deferred %s until %s\n", color.New(color.FgGreen).Sprint("✓"), args[0], deferUntil)
	},
}

var cleanupOlderThan int

var actionItemsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete completed action items older than the retention window",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer e.Close()

		days := cleanupOlderThan
		if !cmd.Flags().Changed("older-than") {
			days = e.Config.Retention.ActionItemDays
		}

		n, err := e.Store.CleanupActionItems(ctx, days)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s Removed %d completed item(s) older than %d day(s)\n",
			color.New(color.FgGreen).Sprint("✓"), n, days)
	},
}

func priorityColor(p types.ActionItemPriority) func(...interface{}) string {
	switch p {
	case types.ActionPriorityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case types.ActionPriorityHigh:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func init() {
	actionItemsListCmd.Flags().StringVar(&actionItemsStatus, "status", "", "filter by status")
	actionItemsListCmd.Flags().StringVar(&actionItemsPriority, "priority", "", "filter by priority")
	actionItemsListCmd.Flags().IntVar(&actionItemsEpic, "epic", 0, "filter by epic number")
	actionItemsCmd.AddCommand(actionItemsListCmd)

	actionItemsPromoteCmd.Flags().IntVar(&promoteStory, "story", 0, "story number to create")
	actionItemsPromoteCmd.Flags().BoolVar(&promoteForce, "force", false, "bypass the one-promotion-per-epic limit")
	_ = actionItemsPromoteCmd.MarkFlagRequired("story")
	actionItemsCmd.AddCommand(actionItemsPromoteCmd)

	actionItemsCmd.AddCommand(actionItemsCompleteCmd)

	actionItemsDeferCmd.Flags().StringVar(&deferUntil, "until", "", "new due date (YYYY-MM-DD)")
	_ = actionItemsDeferCmd.MarkFlagRequired("until")
	actionItemsCmd.AddCommand(actionItemsDeferCmd)

	actionItemsCleanupCmd.Flags().IntVar(&cleanupOlderThan, "older-than", 30, "age threshold in days")
	actionItemsCmd.AddCommand(actionItemsCleanupCmd)

	rootCmd.AddCommand(actionItemsCmd)
}
