package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/roster/pkg/audit"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet

	out io.Writer
}

// Env is what every command shares: where to log and print, and how to
// reach the database and the audit trail.
type Env struct {
	Logger *logrus.Logger
	Out    io.Writer
	// Driver is the database/sql driver name used to open -db.
	Driver string
	// Audit opens the audit sink; nil means the audit_logs table of db.
	Audit func(ctx context.Context, db *sql.DB) (audit.Logger, error)
}

// NewEnv returns the production environment: postgres and a text logger on
// stderr at ROSTER_LOG_LEVEL.
func NewEnv() *Env {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(os.Getenv("ROSTER_LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return &Env{Logger: logger, Out: os.Stdout, Driver: "postgres"}
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "roster-admin",
		Description: "roster - role and permission administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("roster-admin", flag.ContinueOnError),
		out:         env.Out,
	}

	for _, cmd := range []*Command{
		newMigrateCommand(env),
		newGrantMasterCommand(env),
		newCheckHierarchyCommand(env),
		newSweepCommand(env),
		newAuditCommand(env),
	} {
		cmd.Flags.SetOutput(env.Out)
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0].
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if strings.EqualFold(args[0], "-h") || strings.EqualFold(args[0], "--help") || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		if subcmd.Flags != nil {
			resetFlags(subcmd.Flags)
		}
		err := subcmd.Run(args[1:])
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// resetFlags puts every flag back to its default so that values parsed by
// an earlier Execute do not leak into the next one.
func resetFlags(fs *flag.FlagSet) {
	fs.VisitAll(func(f *flag.Flag) {
		// defaults were accepted by the same Value when the flag was defined
		_ = f.Value.Set(f.DefValue)
	})
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(out, "  %-16s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// dbFlag registers -db, defaulting to ROSTER_POSTGRES_URL.
func dbFlag(fs *flag.FlagSet) *string {
	return fs.String("db", os.Getenv("ROSTER_POSTGRES_URL"), "Database connection string (default $ROSTER_POSTGRES_URL)")
}

func (e *Env) openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("-db or ROSTER_POSTGRES_URL is required")
	}
	db, err := sql.Open(e.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (e *Env) openAudit(ctx context.Context, db *sql.DB) (audit.Logger, error) {
	if e.Audit != nil {
		return e.Audit(ctx, db)
	}
	return audit.NewDBLogger(ctx, db)
}
