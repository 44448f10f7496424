package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/promptseal/internal/journal"
)

func (a *App) orphansCommand() *cobra.Command {
	var stale time.Duration

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Report blobs and registrations left behind by failed submissions",
		Long: `orphans lists failed submission attempts that stored a blob or registered
one under a policy before failing. Nothing is cleaned up automatically; once
handled, mark an attempt with "promptctl orphans ack ID".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			j, err := journal.Open(ctx, a.config.Journal, a.logger)
			if err != nil {
				return err
			}
			defer j.Close()

			records, err := j.Orphans(ctx)
			if err != nil {
				return err
			}
			if stale > 0 {
				running, err := j.Stale(ctx, stale)
				if err != nil {
					return err
				}
				records = append(records, running...)
			}

			if len(records) == 0 {
				fmt.Fprintln(a.out, "no orphaned attempts")
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ATTEMPT\tTITLE\tSTATUS\tSTEP\tUPDATED\tLEFT BEHIND\tERROR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Title, r.Status, r.Step, humanize.Time(r.UpdatedAt), leftBehind(r), r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&stale, "stale", 0, "also report attempts still running after this long")
	cmd.AddCommand(a.orphansAckCommand())
	return cmd
}

func (a *App) orphansAckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ack ATTEMPT_ID...",
		Short: "Mark attempts as reconciled",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			j, err := journal.Open(ctx, a.config.Journal, a.logger)
			if err != nil {
				return err
			}
			defer j.Close()

			for _, id := range args {
				if err := j.Acknowledge(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s reconciled\n", id)
			}
			return nil
		},
	}
}

func leftBehind(r *journal.Record) string {
	leaked := r.Leaked()
	if len(leaked) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(leaked))
	for _, res := range leaked {
		parts = append(parts, res.Kind+"="+res.ID)
	}
	return strings.Join(parts, ",")
}
