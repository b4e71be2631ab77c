package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/storefront/checkout/internal/services"
)

func newReconcileCmd(flags *rootFlags) *cobra.Command {
	var orderID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-query the processor for one order and apply the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(orderID) == "" {
				return errors.New("--order is required")
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, flags, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.container.Services.Payments.ReconcileWithProcessor(ctx, services.ReconcileCommand{OrderID: orderID})
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", orderID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s: outcome=%s status=%s paid=%t already_applied=%t\n",
				res.Order.ID, res.Outcome, res.Order.PaymentStatus, res.Order.IsPaid(), res.AlreadyApplied)
			return nil
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "order id to reconcile")
	return cmd
}

func newReconcilePendingCmd(flags *rootFlags) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "reconcile-pending",
		Short: "Sweep stale pending orders against the processor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan < 0 || limit < 0 {
				return errors.New("--older-than and --limit must not be negative")
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, flags, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			if olderThan == 0 {
				olderThan = rt.config.Internal.ReconcilePendingAge
			}
			if limit == 0 {
				limit = rt.config.Internal.ReconcilePendingLimit
			}
			res, err := rt.container.Services.Payments.ReconcilePending(ctx, services.ReconcilePendingCommand{
				OlderThan: olderThan,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d paid=%d failed=%d canceled=%d pending=%d errors=%d\n",
				res.Checked, res.Paid, res.Failed, res.Canceled, res.Pending, res.Errors)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum age of a pending order (default from API_RECONCILE_PENDING_AGE)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum orders per sweep (default from API_RECONCILE_PENDING_LIMIT)")
	return cmd
}
