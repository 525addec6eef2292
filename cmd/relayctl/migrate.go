package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keypad-relay/keypad-relay-server/internal/storage"
	"github.com/keypad-relay/keypad-relay-server/pkg/crypto"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schemas",
}

// migrateSQLCmd represents the migrate sql command
var migrateSQLCmd = &cobra.Command{
	Use:   "sql <database-url>",
	Short: "Create SQL schemas and apply migration plans",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.NewPostgresStore(args[0], storage.Options{})
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Migrate()
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		fmt.Printf("Applied %d migrations\n", n)
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print the bcrypt hash for auth.password_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := crypto.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateSQLCmd)
	rootCmd.AddCommand(migrateCmd, hashPasswordCmd)
}
