package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

var (
	headerColor  = color.New(color.FgGreen, color.Bold).SprintFunc()
	warnColor    = color.New(color.FgYellow).SprintFunc()
	errorColor   = color.New(color.FgRed, color.Bold).SprintFunc()
	subtleColor  = color.New(color.FgHiBlack).SprintFunc()
	successColor = color.New(color.FgCyan).SprintFunc()
)

func newRefreshCmd() *cobra.Command {
	var (
		keyword string
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Crawls the notice board once and indexes new attachments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			appInstance.StartWorkers(ctx)
			summary, err := appInstance.Refresh(ctx, keyword)
			if err != nil {
				return err
			}
			printSummary(cmd, summary)

			if !wait || summary.IndexTaskID == "" {
				return nil
			}
			task, err := appInstance.WaitTask(ctx, summary.IndexTaskID)
			if err != nil {
				return fmt.Errorf("wait for index task: %w", err)
			}
			if task.Status == scholarship.TaskFailed {
				appInstance.Logger().Warn("index task failed", zap.String("task_id", task.ID), zap.String("error", task.Error))
				return fmt.Errorf("index task %s failed: %s", task.ID, task.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s indexed %d chunks\n", successColor("index"), task.ID, task.Chunks)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyword, "keyword", "", "search keyword (defaults to crawler.keyword)")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the index task to finish")
	return cmd
}

func printSummary(cmd *cobra.Command, s scholarship.RefreshSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s keyword=%q\n", headerColor("refresh "+s.Status), s.Keyword)
	fmt.Fprintf(out, "  notices:      %d\n", s.Notices)
	fmt.Fprintf(out, "  attachments:  %d\n", s.Attachments)
	fmt.Fprintf(out, "  records:      %d\n", s.Records)
	fmt.Fprintf(out, "  new hashes:   %d\n", s.HashesAdded)
	fmt.Fprintf(out, "  skipped:      %d\n", s.Skipped)
	if s.Reindexed > 0 {
		fmt.Fprintf(out, "  reindexed:    %d\n", s.Reindexed)
	}
	if s.Failed > 0 {
		fmt.Fprintf(out, "  %s %d\n", warnColor("failed:      "), s.Failed)
	}
	if s.IndexTaskID != "" {
		fmt.Fprintf(out, "  index task:   %s\n", subtleColor(s.IndexTaskID))
	}
}
