package reconcile

import (
	"context"
	"slices"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// dupPlan es la consolidación de un grupo de duplicados sobre su keeper.
type dupPlan struct {
	keeper    repository.Member
	merged    repository.Member // keeper con el patch aplicado
	patch     repository.MemberPatch
	deletable []repository.Member
}

// fillAbsent copia v en dst y en el patch sólo si dst está vacío.
func fillAbsent(dst *string, ptr **string, v string) {
	if *dst == "" && v != "" {
		*dst = v
		*ptr = strPtr(v)
	}
}

// dedupe consolida cada grupo de members con el mismo email en el más
// antiguo y borra el resto. Corre en dos etapas:
//
//  1. merge de campos ausentes en el keeper y reasignación de los members que
//     apuntaban a un duplicado
//  2. borrado de cada duplicado cuyo merge y reasignaciones se aplicaron
//
// Un duplicado vinculado a otra identidad existente no se toca.
func (ps *pass) dedupe(ctx context.Context) {
	const cat = audit.MembersDuplicateEmail
	rep := ps.analyze()
	if len(rep.MembersDuplicateEmail) == 0 {
		return
	}

	keeperOf := map[string]string{}
	plans := make([]*dupPlan, 0, len(rep.MembersDuplicateEmail))
	for _, g := range rep.MembersDuplicateEmail {
		pl := &dupPlan{keeper: g.Keeper, merged: g.Keeper, patch: repository.MemberPatch{ID: g.Keeper.ID}}
		link := g.Keeper.LinkedID()
		if link != "" && !ps.identityExists(link) {
			link = ""
		}
		for _, d := range g.Duplicates {
			dl := d.LinkedID()
			if dl != "" && ps.identityExists(dl) {
				switch {
				case link == "":
					link = dl
					pl.patch.LinkedIdentityID = strPtr(dl)
					pl.merged.LinkedIdentityID = strPtr(dl)
				case link != dl:
					ps.skip(task{category: cat, action: ActionDeleteMember, recordID: d.ID}, "conflicting identity links")
					continue
				}
			}
			pl.deletable = append(pl.deletable, d)
			keeperOf[d.ID] = g.Keeper.ID
		}
		plans = append(plans, pl)
	}

	resolve := func(id string) string {
		if k, ok := keeperOf[id]; ok {
			return k
		}
		return id
	}

	// etapa 1: merges y reasignaciones
	var stage1 []task
	mergeIdx := map[string]int{} // keeper id -> índice en stage1
	for _, pl := range plans {
		if a := pl.merged.AssignedID(); a != "" {
			if _, dup := keeperOf[a]; dup {
				to := resolve(a)
				if to == pl.keeper.ID {
					to = ""
				}
				pl.patch.AssignedToMemberID = strPtr(to)
				pl.merged.AssignedToMemberID = nullableTarget(to)
			}
		}
		for _, d := range pl.deletable {
			fillAbsent(&pl.merged.FullName, &pl.patch.FullName, d.FullName)
			fillAbsent(&pl.merged.Category, &pl.patch.Category, d.Category)
			fillAbsent(&pl.merged.Phone, &pl.patch.Phone, d.Phone)
			fillAbsent(&pl.merged.Address, &pl.patch.Address, d.Address)
			fillAbsent(&pl.merged.City, &pl.patch.City, d.City)
			if pl.merged.AssignedID() == "" && d.AssignedID() != "" {
				if to := resolve(d.AssignedID()); to != pl.keeper.ID {
					pl.patch.AssignedToMemberID = strPtr(to)
					pl.merged.AssignedToMemberID = strPtr(to)
				}
			}
		}
		if !pl.patch.Empty() {
			mergeIdx[pl.keeper.ID] = len(stage1)
			stage1 = append(stage1, ps.memberUpdate(cat, ActionMergeMember, pl.patch))
		}
	}

	isKeeper := make(map[string]bool, len(plans))
	for _, pl := range plans {
		isKeeper[pl.keeper.ID] = true
	}
	repoints := map[string][]int{} // duplicado -> índices en stage1
	for _, m := range ps.members() {
		a := m.AssignedID()
		if isKeeper[m.ID] || a == "" {
			continue
		}
		if _, dup := keeperOf[m.ID]; dup {
			continue
		}
		if _, dup := keeperOf[a]; !dup {
			continue
		}
		to := resolve(a)
		if to == m.ID {
			to = ""
		}
		repoints[a] = append(repoints[a], len(stage1))
		stage1 = append(stage1, ps.memberUpdate(cat, ActionRepointAssignment, repository.MemberPatch{ID: m.ID, AssignedToMemberID: strPtr(to)}))
	}

	out := ps.runTasks(ctx, stage1)
	ok := func(i int) bool { return out[i].Status == StatusApplied || out[i].Status == StatusPlanned }

	// etapa 2: borrados
	var stage2 []task
	for _, pl := range plans {
		mergeOK := true
		if i, has := mergeIdx[pl.keeper.ID]; has {
			mergeOK = ok(i)
		}
		for _, d := range pl.deletable {
			del := ps.memberDelete(cat, d.ID)
			if !mergeOK {
				ps.skip(del, "keeper merge not applied")
				continue
			}
			if slices.ContainsFunc(repoints[d.ID], func(i int) bool { return !ok(i) }) {
				ps.skip(del, "assignment repoint not applied")
				continue
			}
			stage2 = append(stage2, del)
		}
	}
	ps.runTasks(ctx, stage2)
}

func nullableTarget(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// members retorna una copia de los members de la pasada.
func (ps *pass) members() []repository.Member {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return slices.Clone(ps.working.Members)
}
