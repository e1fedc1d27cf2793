// Package orgs manages the organizations roles are scoped to.
//
// # Overview
//
// An organization mirrors the identity kind that owns it: personal,
// business owner, corporation, franchise HQ or franchise store. The only
// parent/child link allowed is franchise store → franchise HQ, which is what
// lets an HQ-scoped franchise_admin oversee its stores.
//
// # Hierarchy Rules
//
//   - Only franchise stores have a parent.
//   - A parent must be an active franchise HQ.
//   - Parent chains never form a cycle (DetectCycle).
//
// # Usage
//
//	svc := orgs.NewPostgresService(db)
//	cached := orgs.NewCachedService(svc, 4096, 5*time.Minute, metrics)
//
//	hq := &orgs.Organization{Name: "Acme Coffee", Type: orgs.OrgTypeFranchiseHQ, OwnerIdentityID: ownerID}
//	if err := cached.CreateOrganization(ctx, hq); err != nil {
//		return err
//	}
//
// CachedService satisfies the role engine's organization source, so franchise
// cascading does not hit the database on every authorization check.
package orgs
