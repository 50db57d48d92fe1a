package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-portal/core/portal"
	"github.com/trezcool/masomo-portal/storage/database"
)

func (cli *commandLine) storageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect or reset the local state store",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the storage engine and schema version",
			Args:  cobra.NoArgs,
			RunE: cli.withApp(func(ctx context.Context, a *app, _ []string) error {
				engine := a.conf.Storage.Engine
				if a.db == nil {
					cli.printf("engine: %s (no schema)\n", engine)
					return nil
				}
				v, err := database.Version(ctx, a.db, engine)
				if err != nil {
					return err
				}
				cli.printf("engine: %s, schema version: %d\n", engine, v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Forget the local session and state, without calling the API",
			Args:  cobra.NoArgs,
			RunE: cli.withApp(func(ctx context.Context, a *app, _ []string) error {
				a.session.Clear()
				state := portal.StateStores{a.persistor, a.jar}
				err := state.Purge(ctx)
				state.Reset()
				if err != nil {
					return err
				}
				cli.printf("local state reset\n")
				return nil
			}),
		},
	)
	return cmd
}
