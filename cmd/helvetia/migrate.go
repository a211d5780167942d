package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := loadEnv("migrate")
			pool, runner, err := openDatabase(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer pool.Close()
			return runner.Ensure(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := loadEnv("migrate")
			pool, runner, err := openDatabase(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer pool.Close()
			return runner.Status(cmd.Context())
		},
	})

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations down to a target version",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := loadEnv("migrate")
			pool, runner, err := openDatabase(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer pool.Close()
			return runner.Down(cmd.Context(), target)
		},
	}
	down.Flags().Int64Var(&target, "to", 0, "version to roll back to (0 removes everything)")
	cmd.AddCommand(down)

	return cmd
}
