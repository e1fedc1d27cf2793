package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/roster/pkg/audit"
	"github.com/platinummonkey/roster/pkg/rbac"
)

// grant-master is the only way to create a master: no requester outranks
// the role, so the engine's AssignRole can never grant it.
func newGrantMasterCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "grant-master",
		Description: "Bootstrap a master assignment for an identity",
		Flags:       flag.NewFlagSet("grant-master", flag.ContinueOnError),
	}
	dsn := dbFlag(cmd.Flags)
	identityID := cmd.Flags.String("identity", "", "Identity to grant master to (required)")
	create := cmd.Flags.Bool("create", false, "Create the identity if it does not exist")
	operator := cmd.Flags.String("operator", os.Getenv("USER"), "Operator recorded in the audit trail")
	reason := cmd.Flags.String("reason", "", "Why the grant is needed")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *identityID == "" {
			return errors.New("-identity is required")
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

		log := env.Logger.WithFields(logrus.Fields{"identity_id": *identityID, "operator": *operator})
		store := rbac.NewSQLStore(db)

		identity, err := store.FetchIdentity(ctx, *identityID)
		switch {
		case errors.Is(err, rbac.ErrNotFound) && *create:
			identity = &rbac.Identity{ID: *identityID, Kind: rbac.IdentityPersonal, Verified: true, IsActive: true}
			if err := store.CreateIdentity(ctx, identity); err != nil {
				return err
			}
			log.Info("identity created")
		case err != nil:
			return err
		}
		if !identity.IsActive {
			return fmt.Errorf("identity %s is inactive", *identityID)
		}

		current, err := store.FetchActiveRoleAssignments(ctx, *identityID)
		if err != nil {
			return err
		}
		for _, a := range current {
			if a.Role == rbac.RoleMaster && a.Held() {
				log.WithField("assignment_id", a.ID).Warn("identity already holds master")
				fmt.Fprintf(env.Out, "%s already holds master (assignment %s)\n", *identityID, a.ID)
				return nil
			}
		}

		assignment, err := store.PersistRoleAssignment(ctx, rbac.RoleAssignment{
			IdentityID: *identityID,
			Role:       rbac.RoleMaster,
			IsActive:   true,
			AssignedBy: rbac.SystemActor,
		})
		if err != nil {
			return err
		}

		event := audit.NewEvent(ctx, audit.EventTypeAuthzMasterBootstrap, audit.EventStatusSuccess)
		event.ActorID = *operator
		event.SubjectID = *identityID
		event.ResourceType = audit.ResourceTypeRoleAssignment
		event.ResourceID = assignment.ID
		event.Message = fmt.Sprintf("master granted to %s from the command line", *identityID)
		event.Metadata = map[string]interface{}{"reason": *reason}
		if err := auditLogger.Log(ctx, event); err != nil {
			log.WithError(err).Error("failed to audit master grant")
		}

		log.WithField("assignment_id", assignment.ID).Info("master granted")
		fmt.Fprintf(env.Out, "granted master to %s (assignment %s)\n", *identityID, assignment.ID)
		return nil
	}
	return cmd
}
