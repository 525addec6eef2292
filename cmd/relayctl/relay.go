package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/keypad-relay/keypad-relay-server/internal/api"
	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the admin API is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := api.NewClient(serverURL, timeout)
		if err := c.Health(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("healthy")
		return nil
	},
}

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List connected relay clients",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session(cmd.Context())
		if err != nil {
			return err
		}
		clients, err := c.Clients(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(clients)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show relay server statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var (
	commandClient string
	commandMode   int
	commandKeyID  int
	commandKeySN  string
	commandValue  string
)

var commandCmd = &cobra.Command{
	Use:   "command <action> <base-id>",
	Short: "Send a vote or parameter command to one client, or to all clients without --client",
	Long: `Actions: start_vote, stop_vote, reset_vote, read_hd_param, write_hd_param,
read_keypad_param, write_keypad_param. Parameter actions require --mode.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := protocol.Action(args[0])
		if !action.Valid() {
			return fmt.Errorf("unknown action %q", args[0])
		}
		baseID, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid base id %q", args[1])
		}

		req := api.CommandRequest{
			ClientID: commandClient,
			Action:   action,
			BaseID:   baseID,
		}
		if action.IsParam() {
			if !cmd.Flags().Changed("mode") {
				return fmt.Errorf("--mode is required for %s", action)
			}
			req.Mode = &commandMode
			req.KeyID = commandKeyID
			req.KeySN = commandKeySN
			req.Value = commandValue
		}

		c, err := session(cmd.Context())
		if err != nil {
			return err
		}
		resp, err := c.SendCommand(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var (
	eventsClient string
	eventsBase   int
	eventsLimit  int
	eventsOffset int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List key events stored by the relay server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session(cmd.Context())
		if err != nil {
			return err
		}

		var baseID *int
		if cmd.Flags().Changed("base-id") {
			baseID = &eventsBase
		}
		events, total, err := c.RelayKeyEvents(cmd.Context(), eventsClient, baseID, eventsLimit, eventsOffset)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"key_events": events,
			"total":      total,
		})
	},
}

func init() {
	commandCmd.Flags().StringVar(&commandClient, "client", "", "target client id (host:port)")
	commandCmd.Flags().IntVar(&commandMode, "mode", 0, "parameter mode")
	commandCmd.Flags().IntVar(&commandKeyID, "key-id", 0, "keypad id for keypad parameters")
	commandCmd.Flags().StringVar(&commandKeySN, "key-sn", "", "keypad serial for keypad parameters")
	commandCmd.Flags().StringVar(&commandValue, "value", "", "value for write actions")

	eventsCmd.Flags().StringVar(&eventsClient, "client", "", "filter by client id")
	eventsCmd.Flags().IntVar(&eventsBase, "base-id", 0, "filter by base id")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "page size")
	eventsCmd.Flags().IntVar(&eventsOffset, "offset", 0, "page offset")

	rootCmd.AddCommand(healthCmd, clientsCmd, statsCmd, commandCmd, eventsCmd)
}
