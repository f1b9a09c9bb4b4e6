package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/cache"
	"github.com/dropDatabas3/rebano/internal/domain/repository"
	"github.com/dropDatabas3/rebano/internal/domain/result"
	"github.com/dropDatabas3/rebano/internal/lock"
	"github.com/dropDatabas3/rebano/internal/retry"
	store "github.com/dropDatabas3/rebano/internal/store"
	"github.com/dropDatabas3/rebano/internal/store/adapters/memory"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func ref(s string) *string { return &s }

func named(id, email, name string) repository.Identity {
	i := repository.Identity{ID: id, Email: email}
	if name != "" {
		i.Metadata = map[string]string{"full_name": name}
	}
	return i
}

var everything = Policy{
	CreateMissingProfile:   true,
	CreateMissingMember:    true,
	LinkMembersByEmail:     true,
	UpdateMismatchedFields: true,
	DeduplicateMembers:     true,
	DeleteOrphanedProfiles: true,
}

func testOptions() Options {
	var n atomic.Int64
	return Options{
		Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		NewID: func() string { return fmt.Sprintf("new-%d", n.Add(1)) },
	}
}

type fixture struct {
	db      *memory.DB
	stores  store.Stores
	auditor *audit.Auditor
}

func newFixture(snap memory.Snapshot) *fixture {
	db := memory.New()
	db.Seed(snap)
	s := db.Stores()
	return &fixture{db: db, stores: s, auditor: audit.New(s, audit.Options{})}
}

func (f *fixture) engine(opts Options) *Engine {
	return New(f.stores, f.auditor, opts)
}

func (f *fixture) audit(t *testing.T) *audit.Report {
	t.Helper()
	r, err := f.auditor.Run(context.Background())
	require.NoError(t, err)
	return r
}

func (f *fixture) member(t *testing.T, id string) *repository.Member {
	t.Helper()
	m, err := f.stores.Members.GetByID(context.Background(), id)
	require.NoError(t, err)
	return m
}

func find(sum *Summary, action Action, id string) (Outcome, bool) {
	for _, o := range sum.Outcomes {
		if o.Action == action && o.RecordID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

func TestScenarioACreatesProfileAndMember(t *testing.T) {
	f := newFixture(memory.Snapshot{Identities: []repository.Identity{named("u1", "ana@x.com", "Ana Paz")}})
	ctx := context.Background()

	sum, err := f.engine(testOptions()).Reconcile(ctx, f.audit(t), Policy{CreateMissingProfile: true, CreateMissingMember: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Writes)
	assert.Zero(t, sum.Failed())

	p, err := f.stores.Profiles.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ana@x.com", p.Email)
	assert.Equal(t, "Ana Paz", p.FullName)

	m := f.member(t, "new-1")
	assert.Equal(t, "u1", m.LinkedID())
	assert.Equal(t, "ana@x.com", m.Email)
	assert.Equal(t, "Ana Paz", m.FullName)
	assert.Equal(t, repository.CategoryMembers, m.Category)
	assert.True(t, m.IsActive)

	after := f.audit(t)
	assert.Zero(t, after.Count(audit.IdentitiesWithoutProfile))
	assert.Zero(t, after.Count(audit.IdentitiesWithoutMember))
}

func TestScenarioBMergesDuplicatesIntoOldest(t *testing.T) {
	f := newFixture(memory.Snapshot{Members: []repository.Member{
		{ID: "m1", Email: "dup@x.com", FullName: "Dora", CreatedAt: t0},
		{ID: "m2", Email: "DUP@x.com", FullName: "Other name", Phone: "555-1234", City: "Rosario", CreatedAt: t0.Add(time.Hour)},
		{ID: "m3", Email: "kid@x.com", AssignedToMemberID: ref("m2"), CreatedAt: t0},
	}})

	sum, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{DeduplicateMembers: true})
	require.NoError(t, err)
	assert.Zero(t, sum.Failed())

	keeper := f.member(t, "m1")
	assert.Equal(t, "Dora", keeper.FullName, "present fields are never overwritten")
	assert.Equal(t, "555-1234", keeper.Phone)
	assert.Equal(t, "Rosario", keeper.City)

	_, err = f.stores.Members.GetByID(context.Background(), "m2")
	require.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, "m1", f.member(t, "m3").AssignedID())

	_, ok := find(sum, ActionMergeMember, "m1")
	assert.True(t, ok)
	_, ok = find(sum, ActionRepointAssignment, "m3")
	assert.True(t, ok)
	o, ok := find(sum, ActionDeleteMember, "m2")
	require.True(t, ok)
	assert.Equal(t, StatusApplied, o.Status)

	assert.Zero(t, f.audit(t).Count(audit.MembersDuplicateEmail))
}

func TestScenarioCOrphanDeletionIsOptIn(t *testing.T) {
	f := newFixture(memory.Snapshot{Profiles: []repository.Profile{{ID: "ghost", Email: "ghost@x.com"}}})
	ctx := context.Background()
	e := f.engine(testOptions())

	sum, err := e.Reconcile(ctx, f.audit(t), Policy{CreateMissingProfile: true, CreateMissingMember: true})
	require.NoError(t, err)
	assert.Zero(t, sum.Writes)
	_, err = f.stores.Profiles.GetByID(ctx, "ghost")
	require.NoError(t, err)

	sum, err = e.Reconcile(ctx, f.audit(t), Policy{DeleteOrphanedProfiles: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Writes)
	_, err = f.stores.Profiles.GetByID(ctx, "ghost")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func messySnapshot() memory.Snapshot {
	return memory.Snapshot{
		Identities: []repository.Identity{
			named("u1", "ana@x.com", "Ana"),
			named("u2", "beto@x.com", "Beto"),
			named("u3", "caro@x.com", ""),
		},
		Profiles: []repository.Profile{
			{ID: "u1", Email: "old@x.com", FullName: "Ana"},
			{ID: "p9", Email: "gone@x.com"},
		},
		Members: []repository.Member{
			{ID: "m1", Email: "ana@x.com", FullName: "Anna", LinkedIdentityID: ref("u1"), CreatedAt: t0},
			{ID: "m2", Email: "beto@x.com", CreatedAt: t0},
			{ID: "m3", Email: "Beto@x.com", Phone: "555", CreatedAt: t0.Add(time.Hour)},
			{ID: "m4", AssignedToMemberID: ref("m3"), CreatedAt: t0},
			{ID: "m5", Email: "walkin@x.com", CreatedAt: t0},
		},
	}
}

func TestFullPassThenSecondPassIsNoop(t *testing.T) {
	f := newFixture(messySnapshot())
	ctx := context.Background()
	e := f.engine(testOptions())

	sum, err := e.Reconcile(ctx, f.audit(t), everything)
	require.NoError(t, err)
	assert.Zero(t, sum.Failed())
	assert.Positive(t, sum.Writes)

	after := f.audit(t)
	for _, c := range everything.Categories() {
		assert.Zero(t, after.Count(c), "category %s", c)
	}
	// sólo informativos
	assert.Equal(t, 2, after.Count(audit.MembersUnlinked))

	again, err := e.Reconcile(ctx, after, everything)
	require.NoError(t, err)
	assert.Zero(t, again.Writes)
	assert.Empty(t, again.Outcomes)
}

// emailCollision: corregir el email de m1 lo deja duplicado con m2, que no
// estaba en ningún grupo al empezar la pasada.
func emailCollision() memory.Snapshot {
	return memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "new@x.com", CreatedAt: t0}},
		Members: []repository.Member{
			{ID: "m1", Email: "old@x.com", LinkedIdentityID: ref("u1"), CreatedAt: t0},
			{ID: "m2", Email: "new@x.com", Phone: "555", CreatedAt: t0.Add(time.Hour)},
		},
	}
}

func TestEmailCorrectionDuplicateIsDedupedInSamePass(t *testing.T) {
	f := newFixture(emailCollision())
	ctx := context.Background()
	e := f.engine(testOptions())
	p := Policy{UpdateMismatchedFields: true, DeduplicateMembers: true}

	sum, err := e.Reconcile(ctx, f.audit(t), p)
	require.NoError(t, err)
	assert.Zero(t, sum.Failed())

	after := f.audit(t)
	assert.Zero(t, after.Count(audit.MembersDuplicateEmail))
	assert.Zero(t, after.Count(audit.FieldMismatches))

	m1 := f.member(t, "m1")
	assert.Equal(t, "new@x.com", m1.Email)
	assert.Equal(t, "555", m1.Phone)
	_, err = f.stores.Members.GetByID(ctx, "m2")
	require.ErrorIs(t, err, repository.ErrNotFound)

	again, err := e.Reconcile(ctx, after, p)
	require.NoError(t, err)
	assert.Zero(t, again.Writes)
	assert.Empty(t, again.Outcomes)
}

func TestEmailCorrectionDuplicateDryRunProjectsDedupe(t *testing.T) {
	f := newFixture(emailCollision())
	p := Policy{UpdateMismatchedFields: true, DeduplicateMembers: true, DryRun: true}

	sum, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), p)
	require.NoError(t, err)
	assert.Zero(t, sum.Writes)
	_, ok := find(sum, ActionDeleteMember, "m2")
	assert.True(t, ok)
	assert.Zero(t, audit.Analyze(sum.Projected()).Count(audit.MembersDuplicateEmail))
	assert.Equal(t, "old@x.com", f.member(t, "m1").Email)
}

func TestFailedActionIsNotRepeatedInLaterRounds(t *testing.T) {
	f := newFixture(emailCollision())
	f.stores.Profiles = &faultyProfiles{
		ProfileRepository: f.stores.Profiles,
		fail:              map[string]error{"u1": fmt.Errorf("check constraint: %w", repository.ErrInvalidInput)},
	}
	p := Policy{CreateMissingProfile: true, UpdateMismatchedFields: true, DeduplicateMembers: true}

	sum, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), p)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed())

	n := 0
	for _, o := range sum.Outcomes {
		if o.Action == ActionCreateProfile {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Zero(t, f.audit(t).Count(audit.MembersDuplicateEmail))
}

func TestFullPassRestoresJoinKeys(t *testing.T) {
	f := newFixture(messySnapshot())
	ctx := context.Background()

	_, err := f.engine(testOptions()).Reconcile(ctx, f.audit(t), everything)
	require.NoError(t, err)

	snap := f.db.Snapshot()
	for _, i := range snap.Identities {
		p, err := f.stores.Profiles.GetByID(ctx, i.ID)
		require.NoError(t, err, "profile for %s", i.ID)
		assert.Equal(t, i.Email, p.Email)

		linked, err := f.stores.Members.List(ctx, repository.Query{Where: repository.Where(repository.Eq(repository.FieldLinkedIdentityID, i.ID))})
		require.NoError(t, err)
		require.Len(t, linked, 1, "member for %s", i.ID)
	}
	assert.Equal(t, "Ana", f.member(t, "m1").FullName)
	assert.Equal(t, "Beto", f.member(t, "m2").FullName)
	assert.Equal(t, "555", f.member(t, "m2").Phone)
	assert.Equal(t, "m2", f.member(t, "m4").AssignedID())
}

func TestFieldMismatchUpdatesOnlyStaleRecords(t *testing.T) {
	f := newFixture(memory.Snapshot{
		Identities: []repository.Identity{named("u1", "ana@x.com", "Ana")},
		Profiles:   []repository.Profile{{ID: "u1", Email: "old@x.com", FullName: "Ana"}},
		Members:    []repository.Member{{ID: "m1", Email: "ANA@x.com", FullName: "Anna", LinkedIdentityID: ref("u1"), CreatedAt: t0}},
	})
	ctx := context.Background()

	sum, err := f.engine(testOptions()).Reconcile(ctx, f.audit(t), Policy{UpdateMismatchedFields: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Writes)

	p, err := f.stores.Profiles.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ana@x.com", p.Email)

	m := f.member(t, "m1")
	assert.Equal(t, "Ana", m.FullName)
	assert.Equal(t, "ANA@x.com", m.Email, "case-only differences are not mismatches")

	_, ok := find(sum, ActionUpdateProfile, "u1")
	assert.True(t, ok)
	_, ok = find(sum, ActionUpdateMember, "m1")
	assert.True(t, ok)
}

func TestLinkMembersByEmail(t *testing.T) {
	f := newFixture(memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "ana@x.com"}},
		Members:    []repository.Member{{ID: "m1", Email: "Ana@X.com", CreatedAt: t0}},
	})
	sum, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{LinkMembersByEmail: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Writes)
	assert.Equal(t, "u1", f.member(t, "m1").LinkedID())
}

func TestRejectsReportWithoutToken(t *testing.T) {
	f := newFixture(messySnapshot())
	_, err := f.engine(testOptions()).Reconcile(context.Background(), &audit.Report{}, everything)
	require.ErrorIs(t, err, repository.ErrInconsistentInput)
	assert.Zero(t, f.db.Writes())
}

func TestRejectsStaleReport(t *testing.T) {
	f := newFixture(messySnapshot())
	ctx := context.Background()
	rep := f.audit(t)

	_, err := f.stores.Profiles.Upsert(ctx, repository.ProfilePatch{ID: "u3", Email: ref("caro@x.com")})
	require.NoError(t, err)
	before := f.db.Writes()

	_, err = f.engine(testOptions()).Reconcile(ctx, rep, everything)
	require.ErrorIs(t, err, repository.ErrInconsistentInput)
	assert.Equal(t, before, f.db.Writes())

	opts := testOptions()
	opts.SkipTokenCheck = true
	sum, err := f.engine(opts).Reconcile(ctx, rep, Policy{CreateMissingProfile: true})
	require.NoError(t, err)
	_, ok := find(sum, ActionCreateProfile, "u3")
	assert.False(t, ok, "actions come from the reloaded snapshot")
}

func TestPartialAuditGuards(t *testing.T) {
	f := newFixture(memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "ana@x.com"}, {ID: "u2", Email: "beto@x.com"}},
		Profiles:   []repository.Profile{{ID: "a-orphan"}, {ID: "u1", Email: "ana@x.com", FullName: "Keep"}},
	})
	f.auditor = audit.New(f.stores, audit.Options{Page: store.PageOptions{PageSize: 1, MaxPages: 1}})
	ctx := context.Background()
	rep := f.audit(t)
	require.True(t, rep.Partial)

	_, err := f.engine(testOptions()).Reconcile(ctx, rep, Policy{DeleteOrphanedProfiles: true})
	require.ErrorIs(t, err, repository.ErrInconsistentInput)
	_, err = f.engine(testOptions()).Reconcile(ctx, rep, Policy{DeduplicateMembers: true})
	require.ErrorIs(t, err, repository.ErrInconsistentInput)
	assert.Zero(t, f.db.Writes())

	sum, err := f.engine(testOptions()).Reconcile(ctx, rep, Policy{CreateMissingProfile: true})
	require.NoError(t, err)
	o, ok := find(sum, ActionCreateProfile, "u1")
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, o.Status)
	assert.Equal(t, "profile already exists", o.Detail)

	p, err := f.stores.Profiles.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Keep", p.FullName)
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(messySnapshot())
	ctx := context.Background()
	p := everything
	p.DryRun = true

	sum, err := f.engine(testOptions()).Reconcile(ctx, f.audit(t), p)
	require.NoError(t, err)
	assert.Zero(t, f.db.Writes())
	assert.Zero(t, sum.Writes)
	assert.True(t, sum.DryRun)
	require.NotEmpty(t, sum.Outcomes)
	for _, o := range sum.Outcomes {
		assert.Equal(t, StatusPlanned, o.Status, "%s %s", o.Action, o.RecordID)
	}

	projected := audit.Analyze(sum.Projected())
	for _, c := range p.Categories() {
		assert.Zero(t, projected.Count(c), "category %s", c)
	}
	assert.NotZero(t, f.audit(t).Total())
}

func TestDryRunIgnoresLock(t *testing.T) {
	f := newFixture(messySnapshot())
	ctx := context.Background()
	c := cache.NewMemory("", 0)
	held, err := lock.Acquire(ctx, c, "", time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	opts := testOptions()
	opts.Locks = c
	_, err = f.engine(opts).Reconcile(ctx, f.audit(t), Policy{CreateMissingProfile: true, DryRun: true})
	require.NoError(t, err)
}

func TestConcurrentPassRefusedByLock(t *testing.T) {
	f := newFixture(messySnapshot())
	ctx := context.Background()
	c := cache.NewMemory("", 0)
	opts := testOptions()
	opts.Locks = c

	held, err := lock.Acquire(ctx, c, "", time.Minute)
	require.NoError(t, err)
	_, err = f.engine(opts).Reconcile(ctx, f.audit(t), everything)
	require.ErrorIs(t, err, lock.ErrHeld)
	assert.Zero(t, f.db.Writes())

	require.NoError(t, held.Release(ctx))
	_, err = f.engine(opts).Reconcile(ctx, f.audit(t), everything)
	require.NoError(t, err)

	// el lock se libera al terminar
	_, err = lock.Acquire(ctx, c, "", time.Minute)
	require.NoError(t, err)
}

// faultyProfiles inyecta fallas en Upsert de profiles.
type faultyProfiles struct {
	repository.ProfileRepository

	mu        sync.Mutex
	fail      map[string]error // falla siempre
	transient map[string]int   // fallas transitorias restantes
	onUpsert  func(id string)
}

func (f *faultyProfiles) Upsert(ctx context.Context, patch repository.ProfilePatch) (*repository.Profile, error) {
	f.mu.Lock()
	if f.onUpsert != nil {
		f.onUpsert(patch.ID)
	}
	if err := f.fail[patch.ID]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if f.transient[patch.ID] > 0 {
		f.transient[patch.ID]--
		f.mu.Unlock()
		return nil, fmt.Errorf("upstream 503: %w", repository.ErrUnavailable)
	}
	f.mu.Unlock()
	return f.ProfileRepository.Upsert(ctx, patch)
}

func threeMissing() memory.Snapshot {
	return memory.Snapshot{Identities: []repository.Identity{
		{ID: "u1", Email: "a@x.com"}, {ID: "u2", Email: "b@x.com"}, {ID: "u3", Email: "c@x.com"},
	}}
}

func TestTransientFailureIsRetried(t *testing.T) {
	f := newFixture(threeMissing())
	f.stores.Profiles = &faultyProfiles{ProfileRepository: f.stores.Profiles, transient: map[string]int{"u2": 2}}

	sum, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{CreateMissingProfile: true})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Writes)

	o, ok := find(sum, ActionCreateProfile, "u2")
	require.True(t, ok)
	assert.Equal(t, StatusApplied, o.Status)
	assert.Equal(t, 3, o.Attempts)
}

func TestTransientFailureExhaustsAttempts(t *testing.T) {
	f := newFixture(threeMissing())
	f.stores.Profiles = &faultyProfiles{ProfileRepository: f.stores.Profiles, transient: map[string]int{"u1": 10}}

	sum, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{CreateMissingProfile: true})
	require.NoError(t, err)

	o, ok := find(sum, ActionCreateProfile, "u1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, result.KindTransient, o.Kind)
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, 2, sum.Writes)
}

func TestRejectedFailureIsNotRetriedAndBatchContinues(t *testing.T) {
	f := newFixture(threeMissing())
	f.stores.Profiles = &faultyProfiles{
		ProfileRepository: f.stores.Profiles,
		fail:              map[string]error{"u1": fmt.Errorf("duplicate key: %w", repository.ErrConflict)},
	}

	sum, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{CreateMissingProfile: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Writes)
	assert.Equal(t, 1, sum.Failed())

	o, ok := find(sum, ActionCreateProfile, "u1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, result.KindRejected, o.Kind)
	assert.Equal(t, 1, o.Attempts)

	cs := sum.Categories[audit.IdentitiesWithoutProfile]
	require.NotNil(t, cs)
	assert.Equal(t, 2, cs.Applied)
	assert.Equal(t, 1, cs.Failed)
	require.Len(t, cs.Failures, 1)
	assert.Equal(t, "u1", cs.Failures[0].RecordID)

	assert.Equal(t, 1, f.audit(t).Count(audit.IdentitiesWithoutProfile))
}

func TestCancellationStopsBetweenRecords(t *testing.T) {
	f := newFixture(threeMissing())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.stores.Profiles = &faultyProfiles{ProfileRepository: f.stores.Profiles, onUpsert: func(string) { cancel() }}

	opts := testOptions()
	opts.Concurrency = 1
	sum, err := f.engine(opts).Reconcile(ctx, f.audit(t), Policy{CreateMissingProfile: true, CreateMissingMember: true})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.True(t, sum.Canceled)

	// la escritura en curso termina; el resto no se intenta
	assert.Equal(t, 1, sum.Writes)
	o, ok := find(sum, ActionCreateProfile, "u2")
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, o.Status)
	assert.Equal(t, result.KindCanceled, o.Kind)
	assert.Nil(t, sum.Categories[audit.IdentitiesWithoutMember])
}

// faultyMembers rechaza los upserts de los ids dados.
type faultyMembers struct {
	repository.MemberRepository
	fail map[string]bool
}

func (f *faultyMembers) Upsert(ctx context.Context, patch repository.MemberPatch) (*repository.Member, error) {
	if f.fail[patch.ID] {
		return nil, fmt.Errorf("check constraint: %w", repository.ErrInvalidInput)
	}
	return f.MemberRepository.Upsert(ctx, patch)
}

func TestDedupeKeepsDuplicateWhenMergeFails(t *testing.T) {
	f := newFixture(memory.Snapshot{Members: []repository.Member{
		{ID: "m1", Email: "dup@x.com", CreatedAt: t0},
		{ID: "m2", Email: "dup@x.com", Phone: "555", CreatedAt: t0.Add(time.Hour)},
	}})
	f.stores.Members = &faultyMembers{MemberRepository: f.stores.Members, fail: map[string]bool{"m1": true}}

	sum, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{DeduplicateMembers: true})
	require.NoError(t, err)
	assert.Zero(t, sum.Writes)

	o, ok := find(sum, ActionDeleteMember, "m2")
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, o.Status)
	assert.Equal(t, "keeper merge not applied", o.Detail)
	f.member(t, "m2")
}

func TestDedupeKeepsDuplicateWhenRepointFails(t *testing.T) {
	f := newFixture(memory.Snapshot{Members: []repository.Member{
		{ID: "m1", Email: "dup@x.com", CreatedAt: t0},
		{ID: "m2", Email: "dup@x.com", CreatedAt: t0.Add(time.Hour)},
		{ID: "m3", AssignedToMemberID: ref("m2"), CreatedAt: t0},
	}})
	f.stores.Members = &faultyMembers{MemberRepository: f.stores.Members, fail: map[string]bool{"m3": true}}

	sum, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{DeduplicateMembers: true})
	require.NoError(t, err)

	o, ok := find(sum, ActionDeleteMember, "m2")
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, o.Status)
	assert.Equal(t, "assignment repoint not applied", o.Detail)
	assert.Equal(t, "m2", f.member(t, "m3").AssignedID())
}

func TestDedupeSkipsConflictingIdentityLinks(t *testing.T) {
	f := newFixture(memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "shared@x.com"}, {ID: "u2", Email: "other@x.com"}},
		Members: []repository.Member{
			{ID: "m1", Email: "shared@x.com", LinkedIdentityID: ref("u1"), CreatedAt: t0},
			{ID: "m2", Email: "shared@x.com", LinkedIdentityID: ref("u2"), CreatedAt: t0.Add(time.Hour)},
		},
	})

	sum, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{DeduplicateMembers: true})
	require.NoError(t, err)
	assert.Zero(t, sum.Writes)

	o, ok := find(sum, ActionDeleteMember, "m2")
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, o.Status)
	assert.Equal(t, "conflicting identity links", o.Detail)
	assert.Equal(t, "u2", f.member(t, "m2").LinkedID())
}

func TestDedupeAdoptsDuplicateLink(t *testing.T) {
	f := newFixture(memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "dup@x.com"}},
		Members: []repository.Member{
			{ID: "m1", Email: "dup@x.com", CreatedAt: t0},
			{ID: "m2", Email: "dup@x.com", LinkedIdentityID: ref("u1"), CreatedAt: t0.Add(time.Hour)},
		},
	})

	_, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{DeduplicateMembers: true})
	require.NoError(t, err)
	assert.Equal(t, "u1", f.member(t, "m1").LinkedID())
	_, err = f.stores.Members.GetByID(context.Background(), "m2")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDedupeClearsKeeperSelfAssignment(t *testing.T) {
	f := newFixture(memory.Snapshot{Members: []repository.Member{
		{ID: "m1", Email: "dup@x.com", AssignedToMemberID: ref("m2"), CreatedAt: t0},
		{ID: "m2", Email: "dup@x.com", CreatedAt: t0.Add(time.Hour)},
	}})

	_, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{DeduplicateMembers: true})
	require.NoError(t, err)
	assert.Empty(t, f.member(t, "m1").AssignedID())
	assert.Zero(t, f.audit(t).Count(audit.InvalidAssignments))
}

func TestDedupeKeeperInheritsDuplicateAssignment(t *testing.T) {
	f := newFixture(memory.Snapshot{Members: []repository.Member{
		{ID: "m1", Email: "dup@x.com", AssignedToMemberID: ref("m2"), CreatedAt: t0},
		{ID: "m2", Email: "dup@x.com", AssignedToMemberID: ref("lead"), CreatedAt: t0.Add(time.Hour)},
		{ID: "lead", Email: "lead@x.com", CreatedAt: t0},
	}})

	_, err := f.engine(testOptions()).Reconcile(context.Background(), f.audit(t), Policy{DeduplicateMembers: true})
	require.NoError(t, err)
	assert.Equal(t, "lead", f.member(t, "m1").AssignedID())
	assert.Zero(t, f.audit(t).Count(audit.InvalidAssignments))
}

func TestPolicyCategoriesFollowPhaseOrder(t *testing.T) {
	assert.Equal(t, []audit.Category{
		audit.IdentitiesWithoutProfile,
		audit.IdentitiesWithoutMember,
		audit.MembersLinkable,
		audit.MembersDuplicateEmail,
		audit.FieldMismatches,
		audit.ProfilesOrphaned,
	}, everything.Categories())
	assert.True(t, everything.Destructive())
	assert.False(t, Policy{CreateMissingProfile: true}.Destructive())
	assert.True(t, Policy{DryRun: true}.Empty())
	assert.Equal(t, "none", Policy{}.String())
	assert.True(t, Policy{LinkMembersByEmail: true}.Acts(audit.MembersLinkable))
}
