package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menudeck/webhooks/internal/delivery"
	"github.com/menudeck/webhooks/internal/emitter"
	"github.com/menudeck/webhooks/internal/endpoint"
)

// emitCmd represents the emit command
var emitCmd = &cobra.Command{
	Use:   "emit [org-id] [event-type]",
	Short: "Emit a test event",
	Long: `Emit an event for an organization, creating one pending delivery per
subscribed endpoint. The workers pick the deliveries up on their next sweep.

Example:
  hookctl emit org_123 menu.published --data '{"id":"menu_42","name":"Dinner"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, eventType := args[0], args[1]
		dataJSON, _ := cmd.Flags().GetString("data")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

		var data map[string]any
		if dataJSON != "" {
			if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
				return fmt.Errorf("failed to parse --data: %w", err)
			}
		}

		pool, ctx, cleanup, err := getPool()
		if err != nil {
			return err
		}
		defer cleanup()

		em := emitter.New(endpoint.NewStore(pool), delivery.NewStore(pool), maxAttempts)
		n, err := em.EmitNow(ctx, eventType, orgID, data)
		if err != nil {
			return fmt.Errorf("failed to emit: %w", err)
		}

		if outputJSON {
			printOutput(map[string]any{"event": eventType, "organization_id": orgID, "fanout": n})
			return nil
		}
		if n == 0 {
			fmt.Println("No subscribed endpoints; nothing created.")
			return nil
		}
		fmt.Printf("Created %d delivery(ies) for %s\n", n, eventType)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(emitCmd)

	emitCmd.Flags().String("data", "", "event snapshot as a JSON object")
	emitCmd.Flags().Int("max-attempts", 5, "per-delivery attempt bound")
}
