package dctl

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Inspect and manage feature-flag grants",
}

var featuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every feature granted to the current owner",
	Args:  cobra.NoArgs,
	RunE:  runFeaturesList,
}

func runFeaturesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	keys, err := k.ListFeatures(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("list features: %w", err)
	}
	if len(keys) == 0 {
		fmt.Println("no features granted")
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

var featuresCheckCmd = &cobra.Command{
	Use:   "check <feature-key>",
	Short: "Check whether the current owner has a feature granted",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeaturesCheck,
}

func runFeaturesCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	allowed, err := k.IsFeatureAllowed(ctx, args[0], ownerID)
	if err != nil {
		return fmt.Errorf("check feature: %w", err)
	}
	fmt.Println(allowed)
	return nil
}

var featuresGrantCmd = &cobra.Command{
	Use:   "grant <feature-key>",
	Short: "Grant a feature to the current owner",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeaturesGrant,
}

func runFeaturesGrant(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := k.GrantFeature(ctx, args[0], ownerID); err != nil {
		return fmt.Errorf("grant feature: %w", err)
	}
	fmt.Printf("granted %s to %s\n", args[0], ownerID)
	return nil
}

func init() {
	featuresCmd.AddCommand(featuresListCmd)
	featuresCmd.AddCommand(featuresCheckCmd)
	featuresCmd.AddCommand(featuresGrantCmd)
}
