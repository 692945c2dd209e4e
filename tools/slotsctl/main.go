package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "slotsctl",
		Short:        "Operate the scheduling service: schema, availability, block-outs",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("base-url", envOr("BASE_URL", "http://localhost:8085"), "scheduling service base url")
	root.PersistentFlags().String("user", envOr("SLOTSCTL_USER", "slotsctl"), "value sent as X-User-Id")

	root.AddCommand(migrateCmd())
	root.AddCommand(availabilityCmd())
	root.AddCommand(blockCmd())
	return root
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
