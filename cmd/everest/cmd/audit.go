package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/everest/internal/domain"
)

func newAuditCmd(rc *RootConfig) *cobra.Command {
	var (
		event     string
		portfolio int64
		since     string
		limit     int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseOptionalDate("since", since)
			if err != nil {
				return err
			}
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				entries, err := s.deps.Ledger.Audit.List(ctx, domain.AuditFilter{
					Event:       event,
					PortfolioID: portfolio,
					Since:       from,
					Limit:       limit,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					for _, e := range entries {
						if err := enc.Encode(e); err != nil {
							return err
						}
					}
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tAT\tEVENT\tDETAIL")
				for _, e := range entries {
					detail, _ := json.Marshal(e.Detail)
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.CreatedAt.Format(time.RFC3339), e.Event, detail)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&event, "event", "", "only this event, e.g. order_executed")
	cmd.Flags().Int64VarP(&portfolio, "portfolio", "p", 0, "only entries for this portfolio")
	cmd.Flags().StringVar(&since, "since", "", "only entries on or after YYYY-MM-DD")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "one JSON object per line")
	return cmd
}
