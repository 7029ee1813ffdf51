package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "rotator",
		Short:         "Maintain a rolling window of date partitions on a log table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./config/rotator.yaml", "path to rotator config")
	cfgPath := func() string { return configPath }

	root.AddCommand(
		newBootstrapCmd(cfgPath),
		newRotateCmd(cfgPath),
		newPlanCmd(cfgPath),
		newServeCmd(cfgPath),
		newReportCmd(cfgPath),
	)
	return root
}
