package main

// cmd_db.go — database sub-commands for the global forge CLI.
//
// In project mode (running from a user's project directory), these commands
// delegate to the user's own binary via `go run . <cmd>` so that the
// project's migrations and seeders are properly registered.
//
// In framework-self mode (running inside the forge source tree), the commands
// print a message saying they must be run from a project directory and exit
// with status 1.

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// runInProject executes the given subcommand in the user's project directory
// Note: the implementation is expected to live in cmd_delegate.go or similar

// forge migrate
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run all pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isFrameworkSelf() {
			return runInProject("migrate")
		}
		fmt.Println("forge migrate can only be run inside a Forge project directory.")
		os.Exit(1)
		return nil
	},
}

// forge migrate:rollback
var migrateRollbackCmd = &cobra.Command{
	Use:   "migrate:rollback",
	Short: "Rollback the last batch of migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isFrameworkSelf() {
			return runInProject("migrate:rollback")
		}
		fmt.Println("forge migrate:rollback can only be run inside a Forge project directory.")
		os.Exit(1)
		return nil
	},
}

// forge migrate:status
var migrateStatusCmd = &cobra.Command{
	Use:   "migrate:status",
	Short: "Show the status of each migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isFrameworkSelf() {
			return runInProject("migrate:status")
		}
		fmt.Println("forge migrate:status can only be run inside a Forge project directory.")
		os.Exit(1)
		return nil
	},
}

// forge seed
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Run all database seeders",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Always delegate to project
		if !isFrameworkSelf() {
			return runInProject("seed")
		}
		fmt.Println("forge seed can only be run inside a Forge project directory.")
		os.Exit(1)
		return nil
	},
}
