package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/everest/internal/config"
	"github.com/alanyoungcy/everest/internal/domain"
)

func newExecuteDueCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "execute-due",
		Short: "Settle every pending order whose liquidation date has arrived",
		Long: `Execute-due runs one settlement batch, the same one the worker runs on
its interval. Orders that fail stay pending and are listed; the command
exits non-zero when any order failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				report, err := s.deps.Engine.ExecuteDueOrders(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "run %s as of %s\n", report.RunID, report.AsOf.Format(domain.DateLayout))
				fmt.Fprintf(out, "  due:      %d\n", report.Due)
				fmt.Fprintf(out, "  executed: %d\n", report.Executed)
				fmt.Fprintf(out, "  skipped:  %d\n", report.Skipped)
				fmt.Fprintf(out, "  failed:   %d\n", report.Failed())
				msgs := report.FailureMessages()
				for _, id := range report.FailedIDs() {
					fmt.Fprintf(out, "  order %d: %s\n", id, msgs[id])
				}
				return report.Err()
			})
		},
	}
}

func newExecuteCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "execute ORDER_ID",
		Short: "Settle one due order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("order id", args[0])
			if err != nil {
				return err
			}
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				o, err := s.deps.Engine.ExecuteOrder(ctx, id)
				if err != nil {
					return err
				}
				printOrder(cmd.OutOrStdout(), o, s.cfg.Currency)
				return nil
			})
		},
	}
}

func newMigrateCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force := func(cfg *config.Config) { cfg.Database.RunMigrations = true }
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", s.cfg.Database.Driver)
				return nil
			}, force)
		},
	}
}

// archiveLister is implemented by archivers that can enumerate what they
// have stored.
type archiveLister interface {
	Archives(ctx context.Context) ([]domain.ObjectInfo, error)
}

func newArchiveCmd(rc *RootConfig) *cobra.Command {
	var (
		before string
		list   bool
	)

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy settled orders to object storage",
		Long: `Archive uploads every order settled before the cutoff to S3 as JSONL.
The cutoff defaults to today minus s3.archive_after_days. Archiving the
same cutoff twice is a no-op. With --list, stored archives are printed
instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := parseDateFlag("before", before)
			if err != nil {
				return err
			}
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				if s.deps.Archiver == nil {
					return errors.New("archive: s3 is not enabled")
				}
				out := cmd.OutOrStdout()

				if list {
					lister, ok := s.deps.Archiver.(archiveLister)
					if !ok {
						return errors.New("archive: listing is not supported")
					}
					infos, err := lister.Archives(ctx)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "PATH\tBYTES\tMODIFIED")
					for _, info := range infos {
						fmt.Fprintf(w, "%s\t%d\t%s\n", info.Path, info.Size, info.LastModified.Format(time.RFC3339))
					}
					return w.Flush()
				}

				if cutoff.IsZero() {
					cutoff = s.deps.Engine.Today().AddDate(0, 0, -s.cfg.S3.ArchiveAfterDays)
				}
				res, err := s.deps.Archiver.ArchiveOrders(ctx, cutoff)
				if err != nil {
					return err
				}
				switch {
				case res.Skipped:
					fmt.Fprintf(out, "%s already archived\n", res.Path)
				case res.Orders == 0:
					fmt.Fprintf(out, "no orders settled before %s\n", cutoff.Format(domain.DateLayout))
				default:
					fmt.Fprintf(out, "archived %d orders (%d bytes) to %s\n", res.Orders, res.Bytes, res.Path)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "cutoff date YYYY-MM-DD")
	cmd.Flags().BoolVar(&list, "list", false, "list stored archives")
	cmd.MarkFlagsMutuallyExclusive("before", "list")
	return cmd
}
