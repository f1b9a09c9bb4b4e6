package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func ref(s string) *string { return &s }

func TestScenarioAMissingProfileAndMember(t *testing.T) {
	r := Analyze(&Snapshot{Identities: []repository.Identity{{ID: "u1", Email: "a@x.com"}}})

	require.Len(t, r.IdentitiesWithoutProfile, 1)
	require.Len(t, r.IdentitiesWithoutMember, 1)
	assert.Equal(t, "u1", r.IdentitiesWithoutProfile[0].Identity.ID)
	assert.Equal(t, "u1", r.IdentitiesWithoutMember[0].Identity.ID)
	assert.Equal(t, 2, r.Total())
}

func TestScenarioBDuplicateKeeperIsOldest(t *testing.T) {
	r := Analyze(&Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "b@x.com"}},
		Profiles:   []repository.Profile{{ID: "u1", Email: "b@x.com"}},
		Members: []repository.Member{
			{ID: "M2", Email: "b@x.com", LinkedIdentityID: ref("u1"), CreatedAt: t0.Add(time.Hour)},
			{ID: "M1", Email: "B@x.com", LinkedIdentityID: ref("u1"), Phone: "555", CreatedAt: t0},
		},
	})

	require.Len(t, r.MembersDuplicateEmail, 1)
	g := r.MembersDuplicateEmail[0]
	assert.Equal(t, "M1", g.Keeper.ID)
	require.Len(t, g.Duplicates, 1)
	assert.Equal(t, "M2", g.Duplicates[0].ID)
	assert.Equal(t, "b@x.com", g.Email)
	assert.Empty(t, r.IdentitiesWithoutMember)
}

func TestKeeperTieBrokenByLowestID(t *testing.T) {
	r := Analyze(&Snapshot{Members: []repository.Member{
		{ID: "b", Email: "d@x.com", CreatedAt: t0},
		{ID: "a", Email: "d@x.com", CreatedAt: t0},
		{ID: "c", Email: "d@x.com", CreatedAt: t0},
	}})
	require.Len(t, r.MembersDuplicateEmail, 1)
	assert.Equal(t, "a", r.MembersDuplicateEmail[0].Keeper.ID)
	assert.Equal(t, "b", r.MembersDuplicateEmail[0].Duplicates[0].ID)
	assert.Equal(t, "c", r.MembersDuplicateEmail[0].Duplicates[1].ID)
}

func TestScenarioCOrphanedProfile(t *testing.T) {
	r := Analyze(&Snapshot{Profiles: []repository.Profile{{ID: "orphan1", Email: "o@x.com"}}})
	require.Len(t, r.ProfilesOrphaned, 1)
	assert.Equal(t, "orphan1", r.ProfilesOrphaned[0].ID)
}

func TestMemberEmailFallbackJoin(t *testing.T) {
	snap := &Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "A@x.com"}, {ID: "u2", Email: "z@x.com"}},
		Members: []repository.Member{
			{ID: "m1", Email: "a@X.com", CreatedAt: t0},
			{ID: "m2", Email: "nobody@x.com", CreatedAt: t0},
			{ID: "m3", Email: "z@x.com", LinkedIdentityID: ref("gone"), CreatedAt: t0},
		},
	}
	r := Analyze(snap)

	// m1 cubre a u1 por email, m3 (vínculo roto) cubre a u2 por email
	assert.Empty(t, r.IdentitiesWithoutMember)
	require.Len(t, r.MembersUnlinked, 1)
	assert.Equal(t, "m2", r.MembersUnlinked[0].ID)
	require.Len(t, r.MembersOrphaned, 1)
	assert.Equal(t, "m3", r.MembersOrphaned[0].ID)
	require.Len(t, r.MembersLinkable, 2)
	assert.Equal(t, Link{MemberID: "m1", IdentityID: "u1", Email: "A@x.com"}, r.MembersLinkable[0])
	assert.Equal(t, "m3", r.MembersLinkable[1].MemberID)
}

func TestMemberLinkedToOtherIdentityIsNotFallback(t *testing.T) {
	r := Analyze(&Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "a@x.com"}, {ID: "u2", Email: "b@x.com"}},
		Members:    []repository.Member{{ID: "m1", Email: "a@x.com", LinkedIdentityID: ref("u2")}},
	})
	require.Len(t, r.IdentitiesWithoutMember, 1)
	assert.Equal(t, "u1", r.IdentitiesWithoutMember[0].Identity.ID)
	assert.Empty(t, r.MembersLinkable)
}

func TestFieldMismatchesUseIdentityAsSource(t *testing.T) {
	r := Analyze(&Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "new@x.com", Metadata: map[string]string{"full_name": "Ana Paz"}}},
		Profiles:   []repository.Profile{{ID: "u1", Email: "NEW@x.com", FullName: "Ana"}},
		Members:    []repository.Member{{ID: "m1", Email: "old@x.com", FullName: "Ana Paz", LinkedIdentityID: ref("u1")}},
	})

	require.Len(t, r.FieldMismatches, 2)
	email, name := r.FieldMismatches[0], r.FieldMismatches[1]
	assert.Equal(t, repository.FieldEmail, email.Field)
	assert.False(t, email.ProfileStale, "case-only difference is not a mismatch")
	assert.True(t, email.MemberStale)
	assert.Equal(t, "old@x.com", email.MemberValue)

	assert.Equal(t, repository.FieldFullName, name.Field)
	assert.Equal(t, "Ana Paz", name.Expected)
	assert.True(t, name.ProfileStale)
	assert.False(t, name.MemberStale)
}

func TestCanonicalNameFallsBackToProfile(t *testing.T) {
	r := Analyze(&Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "a@x.com"}},
		Profiles:   []repository.Profile{{ID: "u1", Email: "a@x.com", FullName: "Ana"}},
		Members:    []repository.Member{{ID: "m1", Email: "a@x.com", LinkedIdentityID: ref("u1")}},
	})
	require.Len(t, r.FieldMismatches, 1)
	assert.Equal(t, "Ana", r.FieldMismatches[0].Expected)
	assert.True(t, r.FieldMismatches[0].MemberStale)
}

func TestInvalidAssignments(t *testing.T) {
	r := Analyze(&Snapshot{Members: []repository.Member{
		{ID: "a", AssignedToMemberID: ref("b")},
		{ID: "b", AssignedToMemberID: ref("c")},
		{ID: "c", AssignedToMemberID: ref("a")},
		{ID: "d", AssignedToMemberID: ref("a")}, // entra al ciclo, no es parte
		{ID: "e", AssignedToMemberID: ref("e")},
		{ID: "f", AssignedToMemberID: ref("ghost")},
		{ID: "g", AssignedToMemberID: ref("d")},
	}})

	require.Len(t, r.InvalidAssignments, 3)
	assert.Equal(t, InvalidAssignment{MemberID: "a", AssignedTo: "b", Reason: ReasonCycle, Cycle: []string{"a", "b", "c"}}, r.InvalidAssignments[0])
	assert.Equal(t, InvalidAssignment{MemberID: "e", AssignedTo: "e", Reason: ReasonSelf}, r.InvalidAssignments[1])
	assert.Equal(t, InvalidAssignment{MemberID: "f", AssignedTo: "ghost", Reason: ReasonMissing}, r.InvalidAssignments[2])
}

func TestCycleReportedFromSmallestID(t *testing.T) {
	r := Analyze(&Snapshot{Members: []repository.Member{
		{ID: "z", AssignedToMemberID: ref("m")},
		{ID: "m", AssignedToMemberID: ref("z")},
	}})
	require.Len(t, r.InvalidAssignments, 1)
	assert.Equal(t, []string{"m", "z"}, r.InvalidAssignments[0].Cycle)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := &Snapshot{
		Identities: []repository.Identity{{ID: "u2", Email: "b@x.com"}, {ID: "u1", Email: "a@x.com"}},
		Profiles:   []repository.Profile{{ID: "p9"}, {ID: "u1", Email: "a@x.com"}},
		Members: []repository.Member{
			{ID: "m2", Email: "c@x.com", CreatedAt: t0},
			{ID: "m1", Email: "c@x.com", CreatedAt: t0},
			{ID: "m3", AssignedToMemberID: ref("m3")},
		},
	}
	b := a.Clone()
	b.Identities[0], b.Identities[1] = b.Identities[1], b.Identities[0]
	b.Members[0], b.Members[2] = b.Members[2], b.Members[0]

	ra, rb := Analyze(a), Analyze(b)
	assert.Equal(t, ra, rb)
	assert.Equal(t, a.Token(), b.Token())

	b.Members[0].Phone = "1"
	assert.NotEqual(t, a.Token(), b.Token())
}

func TestEmptyReportSerializesEmptyLists(t *testing.T) {
	r := Analyze(&Snapshot{})
	assert.True(t, r.Empty())
	assert.NotNil(t, r.MembersDuplicateEmail)
	assert.NotNil(t, r.InvalidAssignments)
	for _, c := range Categories {
		assert.True(t, c.Valid())
		assert.Zero(t, r.Count(c))
	}
	assert.False(t, Category("bogus").Valid())
}
