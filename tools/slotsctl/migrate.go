package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/md-rashed-zaman/clinicslots/libs/config"
	"github.com/md-rashed-zaman/clinicslots/libs/db"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/migrations"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the scheduling schema",
	}

	openMigrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		if err := config.Load(); err != nil {
			return nil, nil, err
		}
		url, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, nil, err
		}
		pool, err := db.Open(cmd.Context(), url, db.Options{MaxConns: 2})
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, migrations.FS), pool.Close, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they ran",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, s := range statuses {
				status, at := "pending", ""
				if s.Applied {
					status = "applied"
					at = s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, at)
			}
			return w.Flush()
		},
	})
	return cmd
}
