package reconcile

import (
	"context"
	"slices"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/domain/repository"
	"github.com/dropDatabas3/rebano/internal/domain/result"
)

// phase es una categoría corregible. El orden de phases es el orden de
// aplicación: primero se crea lo que falta (para que las actualizaciones
// tengan destino), la deduplicación corre antes de corregir campos (cambia qué
// member representa a cada identidad) y el borrado de huérfanos va al final.
type phase struct {
	category audit.Category
	enabled  func(Policy) bool
	run      func(ps *pass, ctx context.Context)
}

var phases = []phase{
	{audit.IdentitiesWithoutProfile, func(p Policy) bool { return p.CreateMissingProfile }, (*pass).createProfiles},
	{audit.IdentitiesWithoutMember, func(p Policy) bool { return p.CreateMissingMember }, (*pass).createMembers},
	{audit.MembersLinkable, func(p Policy) bool { return p.LinkMembersByEmail }, (*pass).linkMembers},
	{audit.MembersDuplicateEmail, func(p Policy) bool { return p.DeduplicateMembers }, (*pass).dedupe},
	{audit.FieldMismatches, func(p Policy) bool { return p.UpdateMismatchedFields }, (*pass).updateMismatches},
	{audit.ProfilesOrphaned, func(p Policy) bool { return p.DeleteOrphanedProfiles }, (*pass).deleteOrphans},
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

// ─── creación ───

func (ps *pass) createProfiles(ctx context.Context) {
	profiles := ps.engine.stores.Profiles
	rep := ps.analyze()
	tasks := make([]task, 0, len(rep.IdentitiesWithoutProfile))
	for _, mr := range rep.IdentitiesWithoutProfile {
		patch := repository.ProfilePatch{ID: mr.Identity.ID, Email: strPtr(mr.Identity.Email)}
		if mr.Name != "" {
			patch.FullName = strPtr(mr.Name)
		}
		tasks = append(tasks, task{
			category: audit.IdentitiesWithoutProfile,
			action:   ActionCreateProfile,
			recordID: patch.ID,
			write: func(ctx context.Context) error {
				// con un snapshot parcial el profile puede estar en una página no leída
				if ps.partial {
					if _, err := profiles.GetByID(ctx, patch.ID); err == nil {
						return errSkip{"profile already exists"}
					} else if !repository.IsNotFound(err) {
						return err
					}
				}
				got, err := profiles.Upsert(ctx, patch)
				if err != nil {
					return err
				}
				ps.mirrorProfile(patch, got)
				return nil
			},
			project: func() { ps.projectProfile(patch, nil) },
		})
	}
	ps.runTasks(ctx, tasks)
}

func (ps *pass) createMembers(ctx context.Context) {
	members := ps.engine.stores.Members
	rep := ps.analyze()
	tasks := make([]task, 0, len(rep.IdentitiesWithoutMember))
	for _, mr := range rep.IdentitiesWithoutMember {
		identityID := mr.Identity.ID
		patch := repository.MemberPatch{
			ID:               ps.engine.opts.NewID(),
			LinkedIdentityID: strPtr(identityID),
			Email:            strPtr(mr.Identity.Email),
			Category:         strPtr(ps.engine.opts.DefaultCategory),
			IsActive:         boolPtr(true),
		}
		if mr.Name != "" {
			patch.FullName = strPtr(mr.Name)
		}
		tasks = append(tasks, task{
			category: audit.IdentitiesWithoutMember,
			action:   ActionCreateMember,
			recordID: patch.ID,
			// el id del member es nuevo en cada vuelta
			key:      string(ActionCreateMember) + "/identity:" + identityID,
			write: func(ctx context.Context) error {
				if ps.partial {
					exists, err := memberExistsFor(ctx, members, identityID, mr.Identity.Email)
					if err != nil {
						return err
					}
					if exists {
						return errSkip{"member already exists"}
					}
				}
				got, err := members.Upsert(ctx, patch)
				if err != nil {
					return err
				}
				ps.mirrorMember(patch, got)
				return nil
			},
			project: func() { ps.projectMember(patch, nil) },
		})
	}
	ps.runTasks(ctx, tasks)
}

// memberExistsFor consulta el store por un member vinculado a la identidad o
// con su email. Sólo se usa con snapshots parciales.
func memberExistsFor(ctx context.Context, members repository.MemberRepository, identityID, email string) (bool, error) {
	linked, err := members.List(ctx, repository.Query{
		Where: repository.Where(repository.Eq(repository.FieldLinkedIdentityID, identityID)),
		Limit: 1,
	})
	if err != nil {
		return false, err
	}
	if len(linked) > 0 {
		return true, nil
	}
	if repository.NormalizeEmail(email) == "" {
		return false, nil
	}
	_, err = members.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return true, nil
	case repository.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// ─── vinculación ───

func (ps *pass) linkMembers(ctx context.Context) {
	rep := ps.analyze()
	tasks := make([]task, 0, len(rep.MembersLinkable))
	for _, l := range rep.MembersLinkable {
		patch := repository.MemberPatch{ID: l.MemberID, LinkedIdentityID: strPtr(l.IdentityID)}
		tasks = append(tasks, ps.memberUpdate(audit.MembersLinkable, ActionLinkMember, patch))
	}
	ps.runTasks(ctx, tasks)
}

func (ps *pass) memberUpdate(cat audit.Category, action Action, patch repository.MemberPatch) task {
	members := ps.engine.stores.Members
	return task{
		category: cat,
		action:   action,
		recordID: patch.ID,
		write: func(ctx context.Context) error {
			got, err := members.Upsert(ctx, patch)
			if err != nil {
				return err
			}
			ps.mirrorMember(patch, got)
			return nil
		},
		project: func() { ps.projectMember(patch, nil) },
	}
}

func (ps *pass) profileUpdate(cat audit.Category, action Action, patch repository.ProfilePatch) task {
	profiles := ps.engine.stores.Profiles
	return task{
		category: cat,
		action:   action,
		recordID: patch.ID,
		write: func(ctx context.Context) error {
			got, err := profiles.Upsert(ctx, patch)
			if err != nil {
				return err
			}
			ps.mirrorProfile(patch, got)
			return nil
		},
		project: func() { ps.projectProfile(patch, nil) },
	}
}

// ─── campos ───

func (ps *pass) updateMismatches(ctx context.Context) {
	rep := ps.analyze()
	profilePatches := map[string]*repository.ProfilePatch{}
	memberPatches := map[string]*repository.MemberPatch{}

	for _, mm := range rep.FieldMismatches {
		v := strPtr(mm.Expected)
		if mm.ProfileStale {
			pp := profilePatches[mm.ProfileID]
			if pp == nil {
				pp = &repository.ProfilePatch{ID: mm.ProfileID}
				profilePatches[mm.ProfileID] = pp
			}
			switch mm.Field {
			case repository.FieldEmail:
				pp.Email = v
			case repository.FieldFullName:
				pp.FullName = v
			}
		}
		if mm.MemberStale {
			mp := memberPatches[mm.MemberID]
			if mp == nil {
				mp = &repository.MemberPatch{ID: mm.MemberID}
				memberPatches[mm.MemberID] = mp
			}
			switch mm.Field {
			case repository.FieldEmail:
				mp.Email = v
			case repository.FieldFullName:
				mp.FullName = v
			}
		}
	}

	var tasks []task
	for _, id := range sortedKeys(profilePatches) {
		tasks = append(tasks, ps.profileUpdate(audit.FieldMismatches, ActionUpdateProfile, *profilePatches[id]))
	}
	for _, id := range sortedKeys(memberPatches) {
		tasks = append(tasks, ps.memberUpdate(audit.FieldMismatches, ActionUpdateMember, *memberPatches[id]))
	}
	ps.runTasks(ctx, tasks)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ─── borrados ───

func (ps *pass) deleteOrphans(ctx context.Context) {
	profiles := ps.engine.stores.Profiles
	rep := ps.analyze()
	tasks := make([]task, 0, len(rep.ProfilesOrphaned))
	for _, p := range rep.ProfilesOrphaned {
		id := p.ID
		tasks = append(tasks, task{
			category: audit.ProfilesOrphaned,
			action:   ActionDeleteProfile,
			recordID: id,
			write: func(ctx context.Context) error {
				if _, err := profiles.DeleteWhere(ctx, repository.Where(repository.Eq(repository.FieldID, id))); err != nil {
					return err
				}
				ps.mirrorRemoveProfile(id)
				return nil
			},
			project: func() { ps.working.RemoveProfile(id) },
		})
	}
	ps.runTasks(ctx, tasks)
}

func (ps *pass) memberDelete(cat audit.Category, id string) task {
	members := ps.engine.stores.Members
	return task{
		category: cat,
		action:   ActionDeleteMember,
		recordID: id,
		write: func(ctx context.Context) error {
			if _, err := members.DeleteWhere(ctx, repository.Where(repository.Eq(repository.FieldID, id))); err != nil {
				return err
			}
			ps.mirrorRemoveMember(id)
			return nil
		},
		project: func() { ps.working.RemoveMember(id) },
	}
}

// skip registra una acción no aplicada sin ejecutarla.
func (ps *pass) skip(t task, reason string) {
	if ps.settled[t.settleKey()] {
		return
	}
	o := newOutcome(t, result.Ok(t.recordID), StatusSkipped, 0)
	o.Detail = reason
	ps.record(t, o)
}
