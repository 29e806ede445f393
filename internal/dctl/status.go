package dctl

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's current stage and error state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	status, err := k.GetStatus(ctx, ownerID, args[0])
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("stage:   %s\n", status.Stage)
	fmt.Printf("cycle:   %d\n", status.Cycle)
	fmt.Printf("message: %s\n", status.Message)
	if status.Artifact != "" {
		fmt.Printf("artifact: %s\n", status.Artifact)
	}
	fmt.Printf("has_error: %v\n", status.HasError)
	if status.LastError != "" {
		fmt.Printf("last_error: %s\n", status.LastError)
	}
	return nil
}

var timelineCmd = &cobra.Command{
	Use:   "timeline <job-id>",
	Short: "List every recorded stage transition for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimeline,
}

func runTimeline(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	events, err := k.GetTimeline(ctx, ownerID, args[0])
	if err != nil {
		return fmt.Errorf("get timeline: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("no events recorded")
		return nil
	}
	for _, event := range events {
		fmt.Printf("%-24s %-16s %-6s cycle=%-2d %s\n",
			event.TS.Format("2006-01-02T15:04:05Z07:00"), event.Stage, event.Phase, event.Cycle, event.Message)
	}
	return nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every document job for the current owner",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rows, err := k.ListDocuments(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if len(rows) == 0 {
		fmt.Println("no jobs found")
		return nil
	}
	fmt.Printf("%-38s %-16s %-24s %s\n", "JOB ID", "STAGE", "TITLE", "MESSAGE")
	for _, row := range rows {
		fmt.Printf("%-38s %-16s %-24s %s\n", row.JobID, row.Stage, row.Title, row.Message)
	}
	return nil
}
