package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/roster/pkg/rbac"
)

func newSweepCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "sweep",
		Description: "Deactivate expired documents and role assignments once",
		Flags:       flag.NewFlagSet("sweep", flag.ContinueOnError),
	}
	dsn := dbFlag(cmd.Flags)
	timeout := cmd.Flags.Duration("timeout", 5*time.Minute, "Give up after this long")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()

		db, err := env.openDB(ctx, *dsn)
		if err != nil {
			return err
		}
		defer db.Close()

		auditLogger, err := env.openAudit(ctx, db)
		if err != nil {
			return err
		}
		defer auditLogger.Close()

		report, err := rbac.NewSweeper(rbac.NewSQLStore(db), nil, nil, auditLogger).Run(ctx)
		if err != nil {
			return err
		}
		env.Logger.WithFields(logrus.Fields{
			"documents":   report.Documents,
			"assignments": report.Assignments,
		}).Info("expiry sweep complete")
		fmt.Fprintf(env.Out, "deactivated %d document(s) and %d assignment(s)\n", report.Documents, report.Assignments)
		return nil
	}
	return cmd
}
