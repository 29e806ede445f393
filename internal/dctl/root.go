// Package dctl provides the command-line interface for docwriterctl, an
// operator tool for admitting jobs and inspecting the pipeline directly
// against the kernel, bypassing the HTTP layer entirely.
package dctl

import (
	"context"
	"fmt"
	"os"

	"github.com/raphaelgruber/memcp-go/internal/config"
	"github.com/raphaelgruber/memcp-go/internal/kernel"
	"github.com/raphaelgruber/memcp-go/internal/metrics"
	"github.com/raphaelgruber/memcp-go/internal/objectstore"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statusstore"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	ownerID string

	cfg config.Config
	k   *kernel.Kernel
	ssc *statusstore.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "docwriterctl",
	Short: "Operate the documentation-writer orchestration kernel",
	Long: `docwriterctl talks directly to the orchestration kernel: admit a
document job, answer its interview questions, watch its progress, and fetch
its finished artifacts, all without going through the HTTP API.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		if ownerID == "" {
			return fmt.Errorf("--owner is required")
		}

		cfg = config.Load()
		ctx := context.Background()

		var err error
		ssc, err = statusstore.NewClient(ctx, statusstore.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, nil, metrics.NewCollector())
		if err != nil {
			return fmt.Errorf("connect to status store: %w", err)
		}
		if err := ssc.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize status store schema: %w", err)
		}

		var objStore objectstore.Store
		switch cfg.ObjectStoreBackend {
		case "minio":
			objStore, err = objectstore.NewMinioStore(ctx, objectstore.MinioConfig{
				Endpoint:  cfg.MinioEndpoint,
				AccessKey: cfg.MinioAccessKey,
				SecretKey: cfg.MinioSecretKey,
				Bucket:    cfg.MinioBucket,
				UseSSL:    cfg.MinioUseSSL,
			})
		default:
			objStore, err = objectstore.NewFSStore(cfg.ObjectStoreRoot)
		}
		if err != nil {
			return fmt.Errorf("connect to object store: %w", err)
		}

		broker := queue.NewDurableBroker(queue.NewMemoryBroker(), ssc, nil)
		topic := statustopic.New(nil)
		k = kernel.New(ssc, objStore, broker, topic, cfg.Queues)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if ssc != nil {
			if err := ssc.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close status store: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&ownerID, "owner", "o", "", "owner id to act as (required)")

	rootCmd.AddCommand(admitCmd)
	rootCmd.AddCommand(admitRFPCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(diagramsCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(featuresCmd)
}

func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
