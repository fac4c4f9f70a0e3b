package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/menudeck/webhooks/internal/endpoint"
	"github.com/menudeck/webhooks/internal/event"
)

// endpointCmd represents the endpoint command
var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Manage webhook endpoints",
	Long:  `Register and manage the endpoints that receive event deliveries.`,
}

// createEndpointCmd represents the endpoint create command
var createEndpointCmd = &cobra.Command{
	Use:   "create [org-id] [url]",
	Short: "Register a new webhook endpoint",
	Long: `Register a new webhook endpoint for an organization.

The signing secret is printed exactly once, on creation. Store it; it cannot
be retrieved later.

Example:
  hookctl endpoint create org_123 https://example.com/webhook --events menu.published,menu.updated`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, url := args[0], args[1]
		secret, _ := cmd.Flags().GetString("secret")
		events, _ := cmd.Flags().GetStringSlice("events")

		pool, ctx, cleanup, err := getPool()
		if err != nil {
			return err
		}
		defer cleanup()

		ep, err := endpoint.NewStore(pool).Create(ctx, orgID, url, secret, events)
		if err != nil {
			return fmt.Errorf("failed to create endpoint: %w", err)
		}

		if outputJSON {
			printOutput(struct {
				endpoint.Endpoint
				Secret string `json:"secret"`
			}{ep, ep.Secret})
		} else {
			fmt.Printf("Created endpoint: %s\n", ep.ID)
			fmt.Printf("  Organization: %s\n", ep.OrganizationID)
			fmt.Printf("  URL: %s\n", ep.URL)
			fmt.Printf("  Events: %s\n", strings.Join(ep.EventTypes, ", "))
			fmt.Printf("  Secret: %s  (shown once, store it now)\n", ep.Secret)
		}
		return nil
	},
}

// listEndpointsCmd represents the endpoint list command
var listEndpointsCmd = &cobra.Command{
	Use:   "list [org-id]",
	Short: "List an organization's endpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, ctx, cleanup, err := getPool()
		if err != nil {
			return err
		}
		defer cleanup()

		eps, err := endpoint.NewStore(pool).List(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to list endpoints: %w", err)
		}

		if outputJSON {
			printOutput(eps)
			return nil
		}
		if len(eps) == 0 {
			fmt.Println("No endpoints.")
			return nil
		}
		for _, ep := range eps {
			state := "enabled"
			if !ep.Enabled {
				state = "disabled"
			}
			fmt.Printf("%s  %-8s  %s\n", ep.ID, state, ep.URL)
			fmt.Printf("  events: %s\n", strings.Join(ep.EventTypes, ", "))
		}
		return nil
	},
}

// enableEndpointCmd represents the endpoint enable command
var enableEndpointCmd = &cobra.Command{
	Use:   "enable [endpoint-id]",
	Short: "Enable an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(args[0], true)
	},
}

// disableEndpointCmd represents the endpoint disable command
var disableEndpointCmd = &cobra.Command{
	Use:   "disable [endpoint-id]",
	Short: "Disable an endpoint",
	Long: `Disable an endpoint. Future events will no longer create deliveries for it;
what happens to deliveries already in the ledger is the worker's
DISABLED_ENDPOINT_POLICY decision.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(args[0], false)
	},
}

func setEnabled(id string, enabled bool) error {
	pool, ctx, cleanup, err := getPool()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := endpoint.NewStore(pool).SetEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("failed to update endpoint: %w", err)
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("Endpoint %s %s\n", id, state)
	return nil
}

// deleteEndpointCmd represents the endpoint delete command
var deleteEndpointCmd = &cobra.Command{
	Use:   "delete [endpoint-id]",
	Short: "Delete an endpoint and its delivery history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, ctx, cleanup, err := getPool()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := endpoint.NewStore(pool).Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete endpoint: %w", err)
		}
		fmt.Printf("Endpoint %s deleted\n", args[0])
		return nil
	},
}

// eventsCmd lists the event catalog so operators don't have to guess types.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the supported event types",
	RunE: func(cmd *cobra.Command, args []string) error {
		types := event.Types()
		if outputJSON {
			printOutput(types)
			return nil
		}
		for _, t := range types {
			fmt.Println(t)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(endpointCmd)
	rootCmd.AddCommand(eventsCmd)
	endpointCmd.AddCommand(createEndpointCmd)
	endpointCmd.AddCommand(listEndpointsCmd)
	endpointCmd.AddCommand(enableEndpointCmd)
	endpointCmd.AddCommand(disableEndpointCmd)
	endpointCmd.AddCommand(deleteEndpointCmd)

	createEndpointCmd.Flags().String("secret", "", "signing secret (if not provided, one will be generated)")
	createEndpointCmd.Flags().StringSlice("events", nil, "comma-separated event types to subscribe to")
}
