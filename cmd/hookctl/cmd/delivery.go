package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/menudeck/webhooks/internal/delivery"
)

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect the delivery ledger",
}

// showDeliveryCmd represents the delivery show command
var showDeliveryCmd = &cobra.Command{
	Use:   "show [delivery-id]",
	Short: "Show one delivery with its full attempt state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, ctx, cleanup, err := getPool()
		if err != nil {
			return err
		}
		defer cleanup()

		d, err := delivery.NewStore(pool).Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch delivery: %w", err)
		}

		if outputJSON {
			printOutput(d)
			return nil
		}
		fmt.Printf("Delivery: %s\n", d.ID)
		fmt.Printf("  Endpoint: %s\n", d.EndpointID)
		fmt.Printf("  Event: %s\n", d.EventType)
		fmt.Printf("  Status: %s (attempt %d/%d)\n", d.Status, d.Attempts, d.MaxAttempts)
		if d.HTTPStatus != 0 {
			fmt.Printf("  Last HTTP status: %d\n", d.HTTPStatus)
		}
		if d.LastError != "" {
			fmt.Printf("  Last error: %s\n", d.LastError)
		}
		if d.NextRetryAt != nil {
			fmt.Printf("  Next retry: %s\n", d.NextRetryAt.Format(time.RFC3339))
		}
		if d.CompletedAt != nil {
			fmt.Printf("  Completed: %s\n", d.CompletedAt.Format(time.RFC3339))
		}
		fmt.Printf("  Created: %s\n", d.CreatedAt.Format(time.RFC3339))
		fmt.Printf("  Payload: %s\n", d.Payload)
		return nil
	},
}

// listDeliveriesCmd represents the delivery list command
var listDeliveriesCmd = &cobra.Command{
	Use:   "list [endpoint-id]",
	Short: "List recent deliveries for an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		pool, ctx, cleanup, err := getPool()
		if err != nil {
			return err
		}
		defer cleanup()

		ds, err := delivery.NewStore(pool).ListByEndpoint(ctx, args[0], delivery.Status(status), limit)
		if err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}

		if outputJSON {
			printOutput(ds)
			return nil
		}
		if len(ds) == 0 {
			fmt.Println("No deliveries.")
			return nil
		}
		for _, d := range ds {
			fmt.Printf("%s  %-9s  %d/%d  %s  %s\n",
				d.ID, d.Status, d.Attempts, d.MaxAttempts, d.EventType,
				d.CreatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

// statsCmd represents the delivery stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the ledger backlog per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, ctx, cleanup, err := getPool()
		if err != nil {
			return err
		}
		defer cleanup()

		counts, err := delivery.NewStore(pool).CountByStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to count deliveries: %w", err)
		}

		if outputJSON {
			printOutput(counts)
			return nil
		}
		for _, st := range []delivery.Status{
			delivery.StatusPending,
			delivery.StatusInflight,
			delivery.StatusRetrying,
			delivery.StatusSucceeded,
			delivery.StatusFailed,
		} {
			fmt.Printf("%-9s  %d\n", st, counts[st])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(showDeliveryCmd)
	deliveryCmd.AddCommand(listDeliveriesCmd)
	deliveryCmd.AddCommand(statsCmd)

	listDeliveriesCmd.Flags().String("status", "", "filter by status (pending, inflight, retrying, succeeded, failed)")
	listDeliveriesCmd.Flags().Int("limit", 20, "maximum rows to return")
}
