package dctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var answerPairs []string

var answerCmd = &cobra.Command{
	Use:   "answer <job-id>",
	Short: "Submit interview answers for a job",
	Long: `Answer submits the interviewer's questionnaire answers, keyed by
question id, and resumes planning.

Examples:
  docwriterctl answer abc123 --owner alice --set q1=yes --set q2="internal only"`,
	Args: cobra.ExactArgs(1),
	RunE: runAnswer,
}

func init() {
	answerCmd.Flags().StringArrayVar(&answerPairs, "set", nil, "an id=answer pair, may be repeated")
}

func runAnswer(cmd *cobra.Command, args []string) error {
	answers := make(map[string]string, len(answerPairs))
	for _, pair := range answerPairs {
		id, value, ok := strings.Cut(pair, "=")
		if !ok {
			exitWithError("malformed --set value %q, want id=answer", pair)
		}
		answers[id] = value
	}

	ctx := context.Background()
	if err := k.SubmitAnswers(ctx, ownerID, args[0], answers); err != nil {
		return fmt.Errorf("submit answers: %w", err)
	}

	fmt.Printf("answers submitted for job %s\n", args[0])
	return nil
}
