package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/everest/internal/domain"
)

func newCustomerCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Register and fund customers",
	}
	cmd.AddCommand(newCustomerAddCmd(rc), newCustomerFundCmd(rc))
	return cmd
}

func newCustomerAddCmd(rc *RootConfig) *cobra.Command {
	var name, email string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a customer and open their bank account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				c, err := s.deps.Customers.Register(ctx, name, email)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "customer %d %s <%s>\n", c.ID, c.FullName, c.Email)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "full name (required)")
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newCustomerFundCmd(rc *RootConfig) *cobra.Command {
	var (
		customer int64
		amount   string
	)

	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Credit a customer's bank account from outside the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(amount)
			if err != nil {
				return err
			}
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				balance, err := s.deps.Customers.Fund(ctx, customer, amt)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "bank: %s\n", money(balance, s.cfg.Currency))
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&customer, "customer", 0, "customer id (required)")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "decimal amount (required)")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newPortfolioCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Open and inspect portfolios",
	}
	cmd.AddCommand(newPortfolioAddCmd(rc), newPortfolioListCmd(rc), newPortfolioHoldingsCmd(rc))
	return cmd
}

func newPortfolioAddCmd(rc *RootConfig) *cobra.Command {
	var (
		customer    int64
		name        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Open an empty portfolio for a customer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				if _, err := s.deps.Customers.Get(ctx, customer); err != nil {
					return err
				}
				p, err := s.deps.Portfolios.Create(ctx, nil, customer, name, description)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "portfolio %d %q for customer %d\n", p.ID, p.Name, p.CustomerID)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&customer, "customer", 0, "owning customer id (required)")
	cmd.Flags().StringVar(&name, "name", "", "portfolio name (required)")
	cmd.Flags().StringVar(&description, "description", "", "free-form description")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newPortfolioListCmd(rc *RootConfig) *cobra.Command {
	var customer int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a customer's portfolios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				list, err := s.deps.Portfolios.ListByCustomer(ctx, customer)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tBALANCE")
				for _, p := range list {
					fmt.Fprintf(w, "%d\t%s\t%s\n", p.ID, p.Name, money(p.Balance, s.cfg.Currency))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().Int64Var(&customer, "customer", 0, "customer id (required)")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func newPortfolioHoldingsCmd(rc *RootConfig) *cobra.Command {
	var portfolio int64

	cmd := &cobra.Command{
		Use:   "holdings",
		Short: "List the products a portfolio holds and their quote counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				holdings, err := s.deps.Holdings.ListByPortfolio(ctx, nil, portfolio)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PRODUCT\tQUOTES\tSINCE")
				for _, h := range holdings {
					quotes, err := s.deps.Orders.QuotesAvailable(ctx, nil, portfolio, h.ProductID)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%d\t%d\t%s\n", h.ProductID, quotes, h.CreatedAt.Format(domain.DateLayout))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().Int64VarP(&portfolio, "portfolio", "p", 0, "portfolio id (required)")
	_ = cmd.MarkFlagRequired("portfolio")
	return cmd
}

func newProductCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage tradable products",
	}
	cmd.AddCommand(newProductAddCmd(rc), newProductListCmd(rc), newProductPriceCmd(rc))
	return cmd
}

func newProductAddCmd(rc *RootConfig) *cobra.Command {
	var (
		symbol  string
		kind    string
		price   string
		issued  string
		expires string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a product at a unit price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := domain.Product{Symbol: symbol, Type: kind}
			var err error
			if p.UnitPrice, err = parseAmount(price); err != nil {
				return err
			}
			if p.IssuanceAt, err = parseOptionalDate("issued", issued); err != nil {
				return err
			}
			if p.ExpirationAt, err = parseOptionalDate("expires", expires); err != nil {
				return err
			}
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				created, err := s.deps.Products.Create(ctx, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "product %d %s at %s\n",
					created.ID, created.Symbol, money(created.UnitPrice, s.cfg.Currency))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "ticker symbol (required)")
	cmd.Flags().StringVar(&kind, "type", "", "product type, e.g. bond or fund")
	cmd.Flags().StringVar(&price, "price", "", "unit price (required)")
	cmd.Flags().StringVar(&issued, "issued", "", "issuance date YYYY-MM-DD")
	cmd.Flags().StringVar(&expires, "expires", "", "expiration date YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newProductListCmd(rc *RootConfig) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products with their current price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				list, err := s.deps.Products.List(ctx, domain.ListOpts{Limit: limit})
				if err != nil {
					return err
				}
				today := s.deps.Engine.Today()
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSYMBOL\tPRICE\tDAYS TO EXPIRE")
				for _, p := range list {
					days := "-"
					if d := p.DaysToExpire(today); d >= 0 {
						days = fmt.Sprint(d)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Symbol, money(p.UnitPrice, s.cfg.Currency), days)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func newProductPriceCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price PRODUCT_ID PRICE",
		Short: "Change the unit price used for new orders",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("product id", args[0])
			if err != nil {
				return err
			}
			price, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return rc.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.deps.Products.UpdatePrice(ctx, id, price); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "product %d now %s\n", id, money(price, s.cfg.Currency))
				return nil
			})
		},
	}
	return cmd
}
