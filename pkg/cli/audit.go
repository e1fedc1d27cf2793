package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/platinummonkey/roster/pkg/audit"
)

func newAuditCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "audit",
		Description: "Search the audit trail",
		Flags:       flag.NewFlagSet("audit", flag.ContinueOnError),
	}
	dsn := dbFlag(cmd.Flags)
	subject := cmd.Flags.String("subject", "", "Only events about this identity")
	actor := cmd.Flags.String("actor", "", "Only events performed by this identity")
	org := cmd.Flags.String("org", "", "Only events in this organization")
	types := cmd.Flags.String("type", "", "Comma-separated event types, e.g. authz.role_change,authz.permission_grant")
	since := cmd.Flags.Duration("since", 0, "Only events newer than this (e.g. 24h)")
	limit := cmd.Flags.Int("limit", 50, "Maximum number of events")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		filter := audit.SearchFilter{
			SubjectID:      *subject,
			ActorID:        *actor,
			OrganizationID: *org,
			Limit:          *limit,
		}
		for _, t := range strings.Split(*types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
			}
		}
		if *since > 0 {
			start := time.Now().Add(-*since)
			filter.StartTime = &start
		}

		ctx := context.Background()
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

		searcher, ok := auditLogger.(audit.Searcher)
		if !ok {
			return errors.New("audit backend does not support search")
		}
		events, err := searcher.Search(ctx, filter)
		if err != nil {
			return err
		}
		env.Logger.WithField("events", len(events)).Debug("audit search complete")

		tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTYPE\tSTATUS\tACTOR\tSUBJECT\tORG\tMESSAGE")
		for _, e := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.UTC().Format(time.RFC3339), e.EventType, e.Status,
				dash(e.ActorID), dash(e.SubjectID), dash(e.OrganizationID), e.Message)
		}
		return tw.Flush()
	}
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
