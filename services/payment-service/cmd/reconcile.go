// services/payment-service/cmd/reconcile.go
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/worker"
)

func reconcileCmd() *cobra.Command {
	var (
		grace time.Duration
		batch int
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep over stuck transactions and exit",
		Long: `Resolve transactions stuck in a non-terminal state by asking the processor
what really happened.

Examples:
  payment-service reconcile
  payment-service reconcile --grace 15m --batch 200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.paymentService()
			if err != nil {
				return err
			}
			wcfg := a.cfg.Reconciler.Worker()
			if grace > 0 {
				wcfg.Grace = grace
			}
			if batch > 0 {
				wcfg.Batch = batch
			}
			sum, err := worker.NewReconciler(a.store, svc, wcfg, worker.WithLogger(a.logger.Named("reconciler"))).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "examined %d, resolved %d, failed %d\n", sum.Examined, sum.Resolved, sum.Failed)
			if sum.Failed > 0 {
				return fmt.Errorf("%d transactions could not be reconciled", sum.Failed)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "override the reconciler grace period")
	cmd.Flags().IntVar(&batch, "batch", 0, "override the number of records examined")
	return cmd
}
