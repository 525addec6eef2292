package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keypad-relay/keypad-relay-server/internal/api"
)

var (
	serverURL string
	username  string
	password  string
	timeout   time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Administer a keypad relay server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(cmd.UsageString())
		os.Exit(2)
	},
}

// Execute runs the root command and is called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("RELAYCTL_SERVER", "http://127.0.0.1:8081"), "relay server admin API base URL")
	rootCmd.PersistentFlags().StringVar(&username, "username", envOr("RELAYCTL_USERNAME", "admin"), "operator username")
	rootCmd.PersistentFlags().StringVar(&password, "password", os.Getenv("RELAYCTL_PASSWORD"), "operator password")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// session returns a logged-in admin client
func session(ctx context.Context) (*api.Client, error) {
	c := api.NewClient(serverURL, timeout)
	if _, err := c.Login(ctx, username, password); err != nil {
		return nil, fmt.Errorf("login as %s: %w", username, err)
	}
	return c, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
