package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"qc-review/internal/notify"
	"qc-review/internal/store"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// open applies migrations.
			s, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s)\n", s.cfg.StoreDriver)
			return nil
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show review statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			out, err := s.stats.GetStatistics(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, out)
			}
			rows := [][]string{
				{"Pending", strconv.Itoa(out.Pending)},
				{"Approved", strconv.Itoa(out.Approved)},
				{"Rejected", strconv.Itoa(out.Rejected)},
				{"Rework", strconv.Itoa(out.Rework)},
				{"Total", strconv.Itoa(out.Total)},
				{"Average score", strconv.FormatFloat(out.AverageScore, 'f', 2, 64)},
				{"Approval rate", strconv.Itoa(out.ApprovalRate) + "%"},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{textCol("Metric"), numCol("Value")}, rows))
			return nil
		},
	}
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every asset against the review invariants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			violations, checked, err := store.VerifyInvariants(cmd.Context(), s.store)
			if err != nil {
				return err
			}
			failures := store.CountFailures(violations)
			warnings := len(violations) - failures
			if ctx.jsonMode() {
				if err := writeJSON(cmd, map[string]any{"checked": checked, "failures": failures, "violations": violations}); err != nil {
					return err
				}
			} else if len(violations) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Checked %d assets, no violations\n", checked)
			} else {
				rows := make([][]string, 0, len(violations))
				for _, v := range violations {
					severity := "error"
					if v.Warning {
						severity = "warning"
					}
					rows = append(rows, []string{v.AssetID, v.Rule, severity, v.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{textCol("Asset"), textCol("Rule"), textCol("Severity"), wrapCol("Detail")}, rows))
				fmt.Fprintf(cmd.OutOrStdout(), "Checked %d assets, %d violations, %d warnings\n", checked, failures, warnings)
			}
			if failures > 0 {
				return fmt.Errorf("%d invariant violations", failures)
			}
			return nil
		},
	}
}

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var count int64

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent transition events from the redis stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			if s.redis == nil {
				return errors.New("events requires REDIS_ADDR")
			}
			publisher := notify.NewRedisPublisher(s.redis, s.cfg.NotifyChannel, s.cfg.NotifyStream, s.cfg.NotifyStreamMaxLen)
			events, err := publisher.Recent(cmd.Context(), count)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, events)
			}
			rows := make([][]string, 0, len(events))
			for _, ev := range events {
				rows = append(rows, []string{
					formatTime(ev.OccurredAt),
					ev.AssetID,
					string(ev.Decision),
					string(ev.QCStatus),
					deref(ev.ReviewerID),
					strconv.FormatInt(ev.Version, 10),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
				textCol("When"), textCol("Asset"), textCol("Decision"), textCol("QC Status"), textCol("Reviewer"), numCol("Version"),
			}, rows))
			return nil
		},
	}

	cmd.Flags().Int64Var(&count, "count", 20, "Number of events to show")
	return cmd
}
