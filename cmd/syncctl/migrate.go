package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/infrastructure/migration"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the planning store schema the pipeline depends on",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "migrations", "Directory holding the migration files")

	// withMigrator opens the source pool only for the duration of fn
	withMigrator := func(cmd *cobra.Command, fn func(*migration.Migrator) error) error {
		a, err := bootstrap(cmd.Context(), root)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(); cerr != nil {
				a.log.Warn("Shutdown incomplete", zap.Error(cerr))
			}
		}()

		if err := a.openDatabases(true, false); err != nil {
			return err
		}
		sqlDB, err := a.dbs.Source.DB.DB()
		if err != nil {
			return err
		}
		m, err := migration.New(sqlDB, path, a.log.Named("migrate"))
		if err != nil {
			return err
		}
		// closing the migrator closes sqlDB too; app.close tolerates that
		defer func() {
			if cerr := m.Close(); cerr != nil {
				a.log.Debug("Migrator close", zap.Error(cerr))
			}
		}()
		return fn(m)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, (*migration.Migrator).Up)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, (*migration.Migrator).Down)
			},
		},
		&cobra.Command{
			Use:   "step <n>",
			Short: "Apply n migrations, rolling back when n is negative",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				return withMigrator(cmd, func(m *migration.Migrator) error { return m.Steps(n) })
			},
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate up or down to a version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return withMigrator(cmd, func(m *migration.Migrator) error { return m.GoTo(uint(v)) })
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Record a version as applied after fixing a dirty state by hand",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return withMigrator(cmd, func(m *migration.Migrator) error { return m.Force(v) })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the applied migration version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *migration.Migrator) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					cmd.Printf("version %d (dirty=%t)\n", version, dirty)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "create <name> [description]",
			Short: "Write an empty up/down migration pair",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				desc := ""
				if len(args) == 2 {
					desc = args[1]
				}
				mf, err := migration.CreateMigration(path, args[0], desc)
				if err != nil {
					return err
				}
				cmd.Printf("%s\n%s\n", mf.UpPath, mf.DownPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List the migrations found on disk",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				names, err := migration.ListMigrations(path)
				if err != nil {
					return err
				}
				for _, n := range names {
					cmd.Println(n)
				}
				return nil
			},
		},
	)
	return cmd
}
