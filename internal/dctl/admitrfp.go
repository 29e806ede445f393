package dctl

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var admitRFPCycles int

var admitRFPCmd = &cobra.Command{
	Use:   "admit-rfp <rfp-text-file>",
	Short: "Admit a new document job from an RFP document's extracted text",
	Long: `Admit-rfp starts a new document job from an RFP's plain-text content: the
rfp-analyze stage infers a title, audience and clarifying questionnaire from
the document itself, in place of the usual interview.

Examples:
  docwriterctl admit-rfp rfp.txt --owner alice --cycles 2`,
	Args: cobra.ExactArgs(1),
	RunE: runAdmitRFP,
}

func init() {
	admitRFPCmd.Flags().IntVarP(&admitRFPCycles, "cycles", "c", 2, "number of review/rewrite cycles to request (1-5)")
}

func runAdmitRFP(cmd *cobra.Command, args []string) error {
	body, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read rfp text file: %w", err)
	}

	ctx := context.Background()
	jobID, err := k.AdmitJobFromRFP(ctx, ownerID, string(body), admitRFPCycles)
	if err != nil {
		return fmt.Errorf("admit job from rfp: %w", err)
	}

	fmt.Printf("job admitted: %s\n", jobID)
	fmt.Println("run 'docwriterctl status' once rfp-analyze finishes to see its interview questions.")
	return nil
}
