package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/partition-rotator/internal/ddl"
	"github.com/example/partition-rotator/internal/partition"
	"github.com/example/partition-rotator/internal/rotation"
)

func newBootstrapCmd(cfgPath func() string) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the initial window, function and scheme and move the table onto it (run once)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cfgPath())
			if err != nil {
				return err
			}
			defer a.close()
			day, err := asOf(date, 0, a.loc, time.Now())
			if err != nil {
				return err
			}
			l, err := a.rot.Bootstrap(cmd.Context(), day)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bootstrapped %d units (%d boundaries, %s..%s)\n",
				len(l.Units), len(l.Boundaries), l.Boundaries[0], l.Boundaries[len(l.Boundaries)-1])
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "as-of date (yyyy-mm-dd), default today")
	return cmd
}

func newRotateCmd(cfgPath func() string) *cobra.Command {
	var (
		date   string
		offset int
	)
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Run one rotation tick",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cfgPath())
			if err != nil {
				return err
			}
			defer a.close()
			day, err := asOf(date, offset, a.loc, time.Now())
			if err != nil {
				return err
			}
			res, err := a.rot.Tick(cmd.Context(), day)
			if res.RunID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", res.RunID, res.Plan)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "as-of date (yyyy-mm-dd), default today")
	cmd.Flags().IntVar(&offset, "offset", 0, "days added to the as-of date (backfill/testing)")
	return cmd
}

func newPlanCmd(cfgPath func() string) *cobra.Command {
	var (
		date      string
		offset    int
		bootstrap bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the next tick's plan and batches without executing them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cfgPath())
			if err != nil {
				return err
			}
			defer a.close()
			day, err := asOf(date, offset, a.loc, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if bootstrap {
				l, batch, err := a.rot.PreviewBootstrap(day)
				if err != nil {
					return err
				}
				printLayout(out, l)
				printBatch(out, batch)
				return nil
			}
			res, err := a.rot.Preview(cmd.Context(), day)
			if err != nil {
				return err
			}
			printPlan(out, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "as-of date (yyyy-mm-dd), default today")
	cmd.Flags().IntVar(&offset, "offset", 0, "days added to the as-of date")
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "show the bootstrap batch instead of a tick")
	return cmd
}

func newServeCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Tick on the configured interval and serve /metrics, /healthz, /readyz",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cfgPath())
			if err != nil {
				return err
			}
			defer a.close()
			svc := rotation.NewService(a.rot, a.cfg.Server.Listen, a.cfg.Schedule.Interval, a.loc)
			return svc.Run(cmd.Context())
		},
	}
}

func newReportCmd(cfgPath func() string) *cobra.Command {
	report := &cobra.Command{Use: "report", Short: "Read-only views of files and partitions"}
	report.AddCommand(
		&cobra.Command{
			Use:   "files",
			Short: "List data files with their filegroups",
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := openApp(cmd.Context(), cfgPath())
				if err != nil {
					return err
				}
				defer a.close()
				files, err := a.store.Files(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tPHYSICAL NAME\tFILEGROUP")
				for _, f := range files {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, f.PhysicalName, f.Filegroup)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "partitions",
			Short: "Row count and value range per partition",
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := openApp(cmd.Context(), cfgPath())
				if err != nil {
					return err
				}
				defer a.close()
				stats, err := a.store.PartitionStats(cmd.Context(), a.rot.Builder().PartitionStatsQuery())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PARTITION\tROWS\tMIN\tMAX")
				for _, s := range stats {
					fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", s.Partition, s.Rows, fmtTime(s.MinValue.Time, s.MinValue.Valid), fmtTime(s.MaxValue.Time, s.MaxValue.Valid))
				}
				return tw.Flush()
			},
		},
	)
	return report
}

func fmtTime(t time.Time, ok bool) string {
	if !ok {
		return "-"
	}
	return t.Format(time.DateTime)
}

func printPlan(w io.Writer, res rotation.Result) {
	fmt.Fprintf(w, "inventory: %d partitions\nplan: %s\n", res.Inventory, res.Plan)
	printBatch(w, res.Create)
	printBatch(w, res.Retire)
}

func printLayout(w io.Writer, l ddl.Layout) {
	fmt.Fprintf(w, "units: %d  boundaries: %d  binding: %d\n", len(l.Units), len(l.Boundaries), len(l.Binding))
	for _, u := range l.Units {
		marker := ""
		if u.Key == partition.FloorKey {
			marker = " (floor)"
		}
		fmt.Fprintf(w, "  %s %s %s%s\n", u.Key, u.Filegroup, u.Path, marker)
	}
}

func printBatch(w io.Writer, b ddl.Batch) {
	if b.Empty() {
		fmt.Fprintf(w, "-- %s batch: empty\n", b.Kind)
		return
	}
	fmt.Fprintf(w, "-- %s batch: %d statements\n%s\n", b.Kind, b.Len(), b.Text())
}
