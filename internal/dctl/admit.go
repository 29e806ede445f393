package dctl

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	admitAudience string
	admitCycles   int
)

var admitCmd = &cobra.Command{
	Use:   "admit <title>",
	Short: "Admit a new document job",
	Long: `Admit starts a new document job: it seeds the interview and enqueues
plan-intake, then returns the job id.

Examples:
  docwriterctl admit "Async Patterns" --owner alice --audience Architects --cycles 2`,
	Args: cobra.ExactArgs(1),
	RunE: runAdmit,
}

func init() {
	admitCmd.Flags().StringVarP(&admitAudience, "audience", "a", "", "intended audience (required)")
	admitCmd.Flags().IntVarP(&admitCycles, "cycles", "c", 2, "number of review/rewrite cycles to request (1-5)")
}

func runAdmit(cmd *cobra.Command, args []string) error {
	if admitAudience == "" {
		exitWithError("--audience is required")
	}

	ctx := context.Background()
	jobID, err := k.AdmitJob(ctx, ownerID, args[0], admitAudience, admitCycles)
	if err != nil {
		return fmt.Errorf("admit job: %w", err)
	}

	fmt.Printf("job admitted: %s\n", jobID)
	fmt.Println("run 'docwriterctl status' once plan-intake finishes to see its interview questions.")
	return nil
}
