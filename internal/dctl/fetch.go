package dctl

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var fetchOutput string

var fetchCmd = &cobra.Command{
	Use:   "fetch <job-id> <relative-path>",
	Short: "Download one artifact from a job's object store namespace",
	Long: `Fetch downloads an artifact by its path relative to the job, e.g.
"final.md", "drafts/S1.md" or "diagrams/S1-1.png".

Examples:
  docwriterctl fetch abc123 final.md --owner alice --out final.md`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchOutput, "out", "O", "", "write to this file instead of stdout")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	artifact, err := k.FetchArtifact(ctx, ownerID, args[0], args[1])
	if err != nil {
		return fmt.Errorf("fetch artifact: %w", err)
	}
	return writeArtifact(artifact.Body, fetchOutput)
}

var diagramsCmd = &cobra.Command{
	Use:   "diagrams <job-id>",
	Short: "Download a job's rendered diagram bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagrams,
}

func init() {
	diagramsCmd.Flags().StringVarP(&fetchOutput, "out", "O", "diagrams.zip", "write the archive to this file")
}

func runDiagrams(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	artifact, err := k.FetchDiagramArchive(ctx, ownerID, args[0])
	if err != nil {
		return fmt.Errorf("fetch diagram archive: %w", err)
	}
	return writeArtifact(artifact.Body, fetchOutput)
}

func writeArtifact(body []byte, out string) error {
	if out == "" {
		_, err := os.Stdout.Write(body)
		return err
	}
	if err := os.WriteFile(out, body, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", out, err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(body), out)
	return nil
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Re-enqueue a job's most recently failed stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := k.ResumeFailed(ctx, ownerID, args[0]); err != nil {
		return fmt.Errorf("resume failed job: %w", err)
	}
	fmt.Printf("resumed job %s\n", args[0])
	return nil
}
