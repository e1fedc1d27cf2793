package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/roster/pkg/rbac"
)

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending schema migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	dsn := dbFlag(cmd.Flags)
	list := cmd.Flags.Bool("list", false, "List known migrations without connecting")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *list {
			for _, m := range rbac.GetMigrations() {
				fmt.Fprintf(env.Out, "%3d  %s\n", m.Version, m.Description)
			}
			return nil
		}

		ctx := context.Background()
		db, err := env.openDB(ctx, *dsn)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := rbac.RunMigrations(ctx, db)
		if err != nil {
			return err
		}
		env.Logger.WithField("applied", applied).Info("migrations complete")
		fmt.Fprintf(env.Out, "applied %d migration(s)\n", applied)
		return nil
	}
	return cmd
}
