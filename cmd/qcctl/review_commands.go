package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"qc-review/internal/models"
	"qc-review/internal/review"
	"qc-review/internal/store"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var params store.CreateAssetParams
	var legacyPath string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create an asset awaiting QC review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(params.Name) == "" {
				return fmt.Errorf("--name is required")
			}
			if legacyPath != "" {
				raw, err := os.ReadFile(legacyPath)
				if err != nil {
					return fmt.Errorf("read legacy log: %w", err)
				}
				params.LegacyWorkflowLog = string(raw)
			}

			s, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			asset, err := s.store.CreateAsset(cmd.Context(), params)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, asset)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s (%s)\n", asset.ID, asset.QCStatus)
			if asset.HistoryMalformed {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: legacy workflow log could not be decoded and was ignored")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&params.ID, "id", "", "Asset id (generated when empty)")
	cmd.Flags().StringVar(&params.Name, "name", "", "Asset name")
	cmd.Flags().StringVar(&params.AssetType, "type", "", "Asset type")
	cmd.Flags().StringVar(&params.SubmittedBy, "submitted-by", "", "Submitting user id")
	cmd.Flags().StringVar(&legacyPath, "legacy-log", "", "File holding a legacy workflow log to import")
	return cmd
}

func newDecisionCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newDecisionCommand(ctx, models.DecisionApprove, "approve <asset-id>", "Approve an asset and activate linking", "Asset approved"),
		newDecisionCommand(ctx, models.DecisionReject, "reject <asset-id>", "Reject an asset", "Asset rejected"),
		newDecisionCommand(ctx, models.DecisionRework, "rework <asset-id>", "Send an asset back for rework", "Rework requested"),
	}
}

func newDecisionCommand(ctx *commandContext, d models.Decision, use, short, message string) *cobra.Command {
	var remarks string
	var score float64
	var reviewer string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			req := review.DecisionRequest{
				AssetID:    args[0],
				ReviewerID: reviewer,
				Remarks:    remarks,
			}
			if cmd.Flags().Changed("score") {
				req.Score = &score
			}
			out, err := s.engine.Decide(cmd.Context(), d, req)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, out.Asset)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: %s\n", message, out.Asset.ID)
			fmt.Fprintf(w, "  qc_status:      %s\n", out.Asset.QCStatus)
			fmt.Fprintf(w, "  workflow_stage: %s\n", out.Asset.WorkflowStage)
			fmt.Fprintf(w, "  linking_active: %t\n", out.Asset.LinkingActive)
			if d == models.DecisionRework {
				fmt.Fprintf(w, "  rework_count:   %d\n", out.Asset.ReworkCount)
			}
			if !out.AuditRecorded {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: decision saved but the audit entry was not recorded")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&remarks, "remarks", "", "Reviewer remarks (required for reject and rework)")
	cmd.Flags().Float64Var(&score, "score", 0, "QC score between 0 and 100")
	cmd.Flags().StringVar(&reviewer, "reviewer", os.Getenv("QC_REVIEWER"), "Reviewer id (defaults to $QC_REVIEWER)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <asset-id>",
		Short: "Show an asset and its workflow log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			asset, err := s.engine.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, asset)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s  %s (%s)\n", asset.ID, asset.Name, asset.AssetType)
			fmt.Fprintf(w, "  qc_status:    %s  stage: %s  linking: %t\n", asset.QCStatus, asset.WorkflowStage, asset.LinkingActive)
			fmt.Fprintf(w, "  score:        %s  rework_count: %d\n", formatScore(asset.QCScore), asset.ReworkCount)
			if asset.HistoryMalformed {
				fmt.Fprintln(w, "  legacy history could not be decoded")
			}
			rows := make([][]string, 0, len(asset.WorkflowLog))
			for i, ev := range asset.WorkflowLog {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					formatTime(ev.Timestamp),
					ev.Action,
					string(ev.Status),
					deref(ev.UserID),
					ev.Remarks,
				})
			}
			fmt.Fprintln(w, renderTable([]column{
				numCol("#"), textCol("When"), textCol("Action"), textCol("Status"), textCol("User"), wrapCol("Remarks"),
			}, rows))
			return nil
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <asset-id>",
		Short: "List audit entries for an asset, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			entries, err := s.engine.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No audit entries")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					formatTime(e.Timestamp),
					string(e.Decision),
					deref(e.UserID),
					formatScore(e.Score),
					e.Remarks,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
				textCol("When"), textCol("Decision"), textCol("Reviewer"), numCol("Score"), wrapCol("Remarks"),
			}, rows))
			return nil
		},
	}
}

func newPendingCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List assets awaiting review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			page, err := s.engine.ListPending(cmd.Context(), status, limit, offset)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, page)
			}
			rows := make([][]string, 0, len(page.Assets))
			for _, a := range page.Assets {
				rows = append(rows, []string{
					a.ID,
					a.Name,
					a.AssetType,
					string(a.QCStatus),
					strconv.Itoa(a.ReworkCount),
					formatTime(a.SubmittedAt),
				})
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, renderTable([]column{
				textCol("ID"), textCol("Name"), textCol("Type"), textCol("QC Status"), numCol("Reworks"), textCol("Submitted"),
			}, rows))
			fmt.Fprintf(w, "Showing %d of %d (offset %d)\n", len(page.Assets), page.Total, page.Offset)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "all", "Filter: all, Pending or Rework")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (server default when 0)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func deref(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
