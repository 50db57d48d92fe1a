package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-portal/core/payment"
)

func (cli *commandLine) payCmd() *cobra.Command {
	var req payment.Request
	cmd := &cobra.Command{
		Use:   "pay --imp-uid UID --merchant-uid UID --amount AMOUNT --name NAME",
		Short: "Confirm a payment completed in the checkout widget",
		Args:  cobra.NoArgs,
		RunE: cli.withApp(func(ctx context.Context, a *app, _ []string) error {
			conf, err := a.svc.RequestPayment(ctx, req)
			if err != nil {
				return err
			}
			cli.printf("payment #%d: %d (%s)\n", conf.ID, conf.PaidAmount, conf.Status)
			return nil
		}),
	}
	cmd.Flags().StringVar(&req.ImpUID, "imp-uid", "", "The checkout widget's payment id")
	cmd.Flags().Int64Var(&req.MerchantUID, "merchant-uid", 0, "The order id")
	cmd.Flags().Int64Var(&req.PaidAmount, "amount", 0, "The paid amount")
	cmd.Flags().StringVar(&req.Name, "name", "", "The order name")
	cmd.Flags().StringVar(&req.PGProvider, "pg-provider", "", "The payment gateway")
	cmd.Flags().StringVar(&req.BuyerEmail, "buyer-email", "", "The buyer's email")
	cmd.Flags().StringVar(&req.BuyerName, "buyer-name", "", "The buyer's name")
	cmd.Flags().Int64Var(&req.PaidAt, "paid-at", 0, "Payment time, in unix seconds")
	return cmd
}
