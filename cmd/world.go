package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var worldCmd = &cobra.Command{
	Use:   "world",
	Short: "Show the rank and world size derived from the training pods",
	Long: `Lists the live pods matching --selector, orders them by StatefulSet
ordinal (or by name), and prints this pod's rank among them. The pod name
comes from --pod-name, POD_NAME or HOSTNAME.`,
	RunE: runWorld,
}

func init() {
	f := worldCmd.Flags()
	f.String("pod-name", "", "name of this pod (default: $POD_NAME or $HOSTNAME)")
	f.String("output", "table", "output format: table, json")

	rootCmd.AddCommand(worldCmd)
}

func runWorld(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if name, _ := cmd.Flags().GetString("pod-name"); name != "" {
		cfg.Kubernetes.PodName = name
	}

	world, err := discoverWorld(ctx)
	if err != nil {
		return err
	}

	if outputFmt, _ := cmd.Flags().GetString("output"); outputFmt == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(world)
	}

	fmt.Printf("Pod:        %s\n", cfg.Kubernetes.PodName)
	fmt.Printf("Rank:       %d\n", world.Rank)
	fmt.Printf("World size: %d\n\n", world.Size)
	for i, name := range world.Pods {
		marker := " "
		if i == world.Rank {
			marker = "*"
		}
		fmt.Printf("%s %3d  %s\n", marker, i, name)
	}
	return nil
}
