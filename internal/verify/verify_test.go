package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/domain/repository"
	"github.com/dropDatabas3/rebano/internal/reconcile"
	"github.com/dropDatabas3/rebano/internal/retry"
	store "github.com/dropDatabas3/rebano/internal/store"
	"github.com/dropDatabas3/rebano/internal/store/adapters/memory"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func ref(s string) *string { return &s }

func harness(stores store.Stores, opts Options) *Harness {
	a := audit.New(stores, audit.Options{})
	e := reconcile.New(stores, a, reconcile.Options{
		Retry: retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0 }
	}
	return New(a, e, opts)
}

func seeded() *memory.DB {
	db := memory.New()
	db.Seed(memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "a@x.com"}, {ID: "u2", Email: "b@x.com"}},
		Profiles:   []repository.Profile{{ID: "u2", Email: "b@x.com"}, {ID: "orphan1"}},
		Members: []repository.Member{
			{ID: "m1", Email: "b@x.com", Phone: "555", LinkedIdentityID: ref("u2"), CreatedAt: t0},
			{ID: "m2", Email: "b@x.com", LinkedIdentityID: ref("u2"), CreatedAt: t0.Add(time.Hour)},
		},
	})
	return db
}

func category(r *Report, c audit.Category) CategoryResult {
	for _, cr := range r.Categories {
		if cr.Category == c {
			return cr
		}
	}
	return CategoryResult{}
}

func TestFullyReconciled(t *testing.T) {
	db := seeded()
	p := reconcile.Policy{CreateMissingProfile: true, CreateMissingMember: true, DeduplicateMembers: true}

	rep, err := harness(db.Stores(), Options{}).Run(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, rep.FullyReconciled)
	assert.Equal(t, t0, rep.Timestamp)
	assert.Equal(t, 4, rep.TotalFindingsBefore)
	assert.Equal(t, 1, rep.TotalFindingsAfter, "orphan1 left alone")
	assert.Equal(t, 3, rep.Writes)
	assert.Len(t, rep.Categories, len(audit.Categories))

	dup := category(rep, audit.MembersDuplicateEmail)
	assert.True(t, dup.Acted)
	assert.Equal(t, 1, dup.Before)
	assert.Zero(t, dup.After)
	assert.True(t, dup.Pass)

	orphans := category(rep, audit.ProfilesOrphaned)
	assert.False(t, orphans.Acted)
	assert.Equal(t, 1, orphans.After)
	assert.True(t, orphans.Pass)
	assert.Empty(t, rep.Failing())
}

func TestExpectedReductionOnUnactedCategory(t *testing.T) {
	db := seeded()
	opts := Options{ExpectedReductions: map[audit.Category]int{audit.ProfilesOrphaned: 1}}

	rep, err := harness(db.Stores(), opts).Run(context.Background(), reconcile.Policy{CreateMissingProfile: true})
	require.NoError(t, err)
	assert.False(t, rep.FullyReconciled)
	failing := rep.Failing()
	require.Len(t, failing, 1)
	assert.Equal(t, audit.ProfilesOrphaned, failing[0].Category)
	require.NotNil(t, failing[0].ExpectedReduction)
	assert.Equal(t, 1, *failing[0].ExpectedReduction)
}

func TestDryRunUsesProjection(t *testing.T) {
	db := seeded()
	p := reconcile.Policy{CreateMissingProfile: true, CreateMissingMember: true, DeleteOrphanedProfiles: true, DryRun: true}

	rep, err := harness(db.Stores(), Options{}).Run(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Zero(t, rep.Writes)
	assert.Zero(t, db.Writes())
	assert.True(t, rep.FullyReconciled)
	assert.Zero(t, category(rep, audit.ProfilesOrphaned).After)
}

type rejectingProfiles struct{ repository.ProfileRepository }

func (rejectingProfiles) Upsert(context.Context, repository.ProfilePatch) (*repository.Profile, error) {
	return nil, fmt.Errorf("rls: %w", repository.ErrInvalidInput)
}

func TestRecordFailuresAreReportedPerCategory(t *testing.T) {
	s := seeded().Stores()
	s.Profiles = rejectingProfiles{s.Profiles}

	rep, err := harness(s, Options{}).Run(context.Background(), reconcile.Policy{CreateMissingProfile: true})
	require.NoError(t, err)
	assert.False(t, rep.FullyReconciled)
	assert.Equal(t, 1, rep.Failures)

	cr := category(rep, audit.IdentitiesWithoutProfile)
	assert.False(t, cr.Pass)
	assert.Equal(t, 1, cr.Failed)
	require.Len(t, cr.Failures, 1)
	assert.Equal(t, "u1", cr.Failures[0].RecordID)
}

func TestPartialDestructiveIsRefused(t *testing.T) {
	db := seeded()
	s := db.Stores()
	a := audit.New(s, audit.Options{Page: store.PageOptions{PageSize: 1, MaxPages: 1}})
	h := New(a, reconcile.New(s, a, reconcile.Options{}), Options{})

	rep, err := h.Run(context.Background(), reconcile.Policy{DeduplicateMembers: true})
	require.ErrorIs(t, err, repository.ErrInconsistentInput)
	assert.Nil(t, rep)
	assert.Zero(t, db.Writes())
}

func TestReportJSONShape(t *testing.T) {
	rep, err := harness(seeded().Stores(), Options{}).Run(context.Background(), reconcile.Policy{})
	require.NoError(t, err)
	b, err := rep.JSON()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"timestamp", "totalFindingsBefore", "totalFindingsAfter", "categories", "fullyReconciled"} {
		assert.Contains(t, m, k)
	}
}

func TestParseExpectations(t *testing.T) {
	got, err := ParseExpectations(map[string]int{"profilesOrphaned": 2})
	require.NoError(t, err)
	assert.Equal(t, map[audit.Category]int{audit.ProfilesOrphaned: 2}, got)

	_, err = ParseExpectations(map[string]int{"nope": 1, "membersOrphaned": -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Contains(t, err.Error(), "negative")
}
