package cli

import (
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/roster/pkg/rbac"
)

func newCheckHierarchyCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "check-hierarchy",
		Description: "Validate a role hierarchy file and print the result",
		Flags:       flag.NewFlagSet("check-hierarchy", flag.ContinueOnError),
	}
	file := cmd.Flags.String("file", "", "Hierarchy override file (built-in roles when empty)")
	format := cmd.Flags.String("format", "table", "Output format: table or yaml")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		h := rbac.DefaultHierarchy()
		if *file != "" {
			var err error
			if h, err = rbac.LoadHierarchyFile(*file); err != nil {
				return err
			}
			env.Logger.WithField("file", *file).Info("hierarchy file is valid")
		}

		switch *format {
		case "yaml":
			out, err := rbac.MarshalHierarchy(h)
			if err != nil {
				return err
			}
			_, err = env.Out.Write(out)
			return err
		case "table":
			return printHierarchy(env, h)
		default:
			return fmt.Errorf("unknown format %q (must be table or yaml)", *format)
		}
	}
	return cmd
}

func printHierarchy(env *Env, h *rbac.Hierarchy) error {
	tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tPRIORITY\tINHERITS\tPERMISSIONS")
	for _, role := range h.Roles() {
		def, _ := h.Definition(role)
		inherits := make([]string, len(def.Inherits))
		for i, r := range def.Inherits {
			inherits[i] = string(r)
		}
		if len(inherits) == 0 {
			inherits = []string{"-"}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", role, def.Priority, strings.Join(inherits, ","), len(h.Permissions(role)))
	}
	return tw.Flush()
}
