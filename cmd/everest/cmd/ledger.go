package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/everest/internal/service"
)

// orderFlags are shared by invest and divest.
type orderFlags struct {
	portfolio int64
	product   int64
	quotes    int
	date      string
}

func (f *orderFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&f.portfolio, "portfolio", "p", 0, "portfolio id (required)")
	cmd.Flags().Int64Var(&f.product, "product", 0, "product id (required)")
	cmd.Flags().IntVarP(&f.quotes, "quotes", "q", 0, "number of quotes (required)")
	cmd.Flags().StringVar(&f.date, "date", "", "liquidation date YYYY-MM-DD (default today)")
	_ = cmd.MarkFlagRequired("portfolio")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("quotes")
}

func (f *orderFlags) request() (service.OrderRequest, error) {
	at, err := parseDateFlag("date", f.date)
	if err != nil {
		return service.OrderRequest{}, err
	}
	return service.OrderRequest{
		Quotes:      f.quotes,
		LiquidateAt: at,
		ProductID:   f.product,
		PortfolioID: f.portfolio,
	}, nil
}

func newInvestCmd(rc *RootConfig) *cobra.Command {
	var f orderFlags

	cmd := &cobra.Command{
		Use:   "invest",
		Short: "Buy quotes of a product for a portfolio",
		Long: `Invest books a buy order at the product's current price. An order
dated today or earlier settles immediately; a future order waits for the
settlement batch on its date.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				o, err := s.deps.Engine.Invest(ctx, req)
				if err != nil {
					return err
				}
				printOrder(cmd.OutOrStdout(), o, s.cfg.Currency)
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func newDivestCmd(rc *RootConfig) *cobra.Command {
	var f orderFlags

	cmd := &cobra.Command{
		Use:   "divest",
		Short: "Sell quotes of a product held by a portfolio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				o, err := s.deps.Engine.WithdrawProduct(ctx, req)
				if err != nil {
					return err
				}
				printOrder(cmd.OutOrStdout(), o, s.cfg.Currency)
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

// newTransferCmd builds deposit (bank to portfolio) or withdraw (portfolio
// to bank).
func newTransferCmd(rc *RootConfig, kind string) *cobra.Command {
	var (
		customer  int64
		portfolio int64
		amount    string
	)

	short := "Move cash from the customer's bank account into a portfolio"
	if kind == "withdraw" {
		short = "Move cash from a portfolio back to the customer's bank account"
	}

	cmd := &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(amount)
			if err != nil {
				return err
			}
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				transfer := s.deps.Engine.Deposit
				if kind == "withdraw" {
					transfer = s.deps.Engine.Withdraw
				}
				if err := transfer(ctx, amt, customer, portfolio); err != nil {
					return err
				}
				return printBalances(ctx, cmd, s, customer, portfolio)
			})
		},
	}

	cmd.Flags().Int64Var(&customer, "customer", 0, "customer id (required)")
	cmd.Flags().Int64VarP(&portfolio, "portfolio", "p", 0, "portfolio id (required)")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "decimal amount, e.g. 150.25 (required)")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("portfolio")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newBalanceCmd(rc *RootConfig) *cobra.Command {
	var customer, portfolio int64

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the bank and portfolio balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				return printBalances(ctx, cmd, s, customer, portfolio)
			})
		},
	}

	cmd.Flags().Int64Var(&customer, "customer", 0, "customer id (required)")
	cmd.Flags().Int64VarP(&portfolio, "portfolio", "p", 0, "portfolio id (required)")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("portfolio")
	return cmd
}

func printBalances(ctx context.Context, cmd *cobra.Command, s *session, customer, portfolio int64) error {
	bank, pf, err := s.deps.Engine.Balances(ctx, customer, portfolio)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "bank:      %s\n", money(bank, s.cfg.Currency))
	fmt.Fprintf(out, "portfolio: %s\n", money(pf, s.cfg.Currency))
	return nil
}
