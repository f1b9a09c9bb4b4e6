package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/domain/repository"
	"github.com/dropDatabas3/rebano/internal/store/adapters/memory"
	"github.com/dropDatabas3/rebano/internal/verify"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func ref(s string) *string { return &s }

// workspace escribe el snapshot y una config memory que lo apunta.
func workspace(t *testing.T, snap memory.Snapshot, extraYAML string) (cfgPath, snapPath string) {
	t.Helper()
	dir := t.TempDir()
	snapPath = filepath.Join(dir, "snapshot.json")
	db := memory.New()
	db.Seed(snap)
	require.NoError(t, db.Save(snapPath))

	cfgPath = filepath.Join(dir, "rebano.yaml")
	body := "storage:\n  driver: memory\n  memory:\n    snapshot_path: snapshot.json\nretry:\n  max_attempts: 1\n" + extraYAML
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, snapPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand("test")
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append(args, "--quiet"))
	err := cmd.Execute()
	return buf.String(), err
}

func reload(t *testing.T, path string) memory.Snapshot {
	t.Helper()
	db, err := memory.Load(path)
	require.NoError(t, err)
	return db.Snapshot()
}

func TestReconcile_ScenarioA(t *testing.T) {
	cfg, snap := workspace(t, memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "a@x.com", CreatedAt: t0}},
	}, "")

	out, err := execute(t, "reconcile", "--config", cfg, "--format", "json",
		"--create-missing-profiles", "--create-missing-members")
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, GetExitCode(err))

	var rep verify.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.True(t, rep.FullyReconciled)
	assert.Equal(t, 2, rep.Writes)

	after := reload(t, snap)
	require.Len(t, after.Profiles, 1)
	assert.Equal(t, "u1", after.Profiles[0].ID)
	require.Len(t, after.Members, 1)
	assert.Equal(t, "u1", after.Members[0].LinkedID())
	assert.Equal(t, "a@x.com", after.Members[0].Email)
}

func TestReconcile_DryRunWritesNothing(t *testing.T) {
	cfg, snap := workspace(t, memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "a@x.com", CreatedAt: t0}},
	}, "")

	out, err := execute(t, "reconcile", "--config", cfg, "--create-missing-profiles", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "fully reconciled: true")
	assert.Empty(t, reload(t, snap).Profiles)
}

func TestReconcile_NoPolicy(t *testing.T) {
	cfg, _ := workspace(t, memory.Snapshot{}, "")
	_, err := execute(t, "reconcile", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no categories selected")
}

func TestReconcile_UnmetExpectationExitsOne(t *testing.T) {
	cfg, _ := workspace(t, memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "a@x.com", CreatedAt: t0}},
		Members:    []repository.Member{{ID: "m9", Email: "nobody@x.com", CreatedAt: t0}},
	}, "")

	out, err := execute(t, "reconcile", "--config", cfg, "--create-missing-profiles",
		"--expect", "membersUnlinked=1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "fully reconciled: false")
}

func TestReconcile_BadExpectation(t *testing.T) {
	cfg, _ := workspace(t, memory.Snapshot{}, "")
	_, err := execute(t, "reconcile", "--config", cfg, "--create-missing-profiles", "--expect", "bogus=1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReconcile_DedupeKeepsOldest(t *testing.T) {
	cfg, snap := workspace(t, memory.Snapshot{
		Identities: []repository.Identity{{ID: "u2", Email: "b@x.com", CreatedAt: t0}},
		Members: []repository.Member{
			{ID: "m1", Email: "b@x.com", Phone: "555", LinkedIdentityID: ref("u2"), CreatedAt: t0},
			{ID: "m2", Email: "b@x.com", City: "Rosario", LinkedIdentityID: ref("u2"), CreatedAt: t0.Add(time.Hour)},
		},
	}, "")

	_, err := execute(t, "reconcile", "--config", cfg, "--dedupe-members")
	require.NoError(t, err)

	after := reload(t, snap)
	require.Len(t, after.Members, 1)
	assert.Equal(t, "m1", after.Members[0].ID)
	assert.Equal(t, "555", after.Members[0].Phone)
	assert.Equal(t, "Rosario", after.Members[0].City)
}

func TestVerify_UsesConfiguredPolicy(t *testing.T) {
	cfg, snap := workspace(t, memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "a@x.com", CreatedAt: t0}},
		Profiles:   []repository.Profile{{ID: "orphan1", Email: "o@x.com"}},
	}, "reconcile:\n  policy:\n    create_missing_profile: true\n")

	out, err := execute(t, "verify", "--config", cfg, "--format", "json")
	require.NoError(t, err)

	var rep verify.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.True(t, rep.Policy.CreateMissingProfile)
	assert.True(t, rep.FullyReconciled)

	after := reload(t, snap)
	assert.Len(t, after.Profiles, 2, "orphan deletion is opt-in")
}

func TestAudit(t *testing.T) {
	cfg, _ := workspace(t, memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "a@x.com", CreatedAt: t0}},
	}, "")

	out, err := execute(t, "audit", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "identitiesWithoutProfile")
	assert.Contains(t, out, "total findings: 2")

	_, err = execute(t, "audit", "--config", cfg, "--fail-on-findings")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err = execute(t, "audit", "--config", cfg, "--format", "json")
	require.NoError(t, err)
	var rep audit.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.IdentitiesWithoutProfile, 1)
	assert.Equal(t, "u1", rep.IdentitiesWithoutProfile[0].Identity.ID)
}

func TestInspect(t *testing.T) {
	cfg, _ := workspace(t, memory.Snapshot{
		Identities: []repository.Identity{{ID: "u1", Email: "a@x.com", CreatedAt: t0}},
		Profiles:   []repository.Profile{{ID: "u1", Email: "a@x.com", FullName: "Ana"}},
		Members:    []repository.Member{{ID: "m1", Email: "A@x.com", LinkedIdentityID: ref("u1"), CreatedAt: t0}},
	}, "")

	out, err := execute(t, "inspect", "--config", cfg, "--email", "a@x.com")
	require.NoError(t, err)
	assert.Contains(t, out, "identity  u1")
	assert.Contains(t, out, `"Ana"`)
	assert.Contains(t, out, "linked=u1")

	_, err = execute(t, "inspect", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestMigrate_RequiresSQLStore(t *testing.T) {
	cfg, _ := workspace(t, memory.Snapshot{}, "")
	_, err := execute(t, "migrate", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "does not support migrations")
}

func TestRoot_InvalidFormatAndConfig(t *testing.T) {
	_, err := execute(t, "audit", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")

	_, err = execute(t, "audit", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "audit", "--env-file", filepath.Join(t.TempDir(), "custom.env"))
	require.Error(t, err, "an explicit env file must exist")
}

func TestRoot_EnvFile(t *testing.T) {
	cfg, _ := workspace(t, memory.Snapshot{}, "")
	envPath := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("REBANO_TEST_MARKER=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("REBANO_TEST_MARKER") })

	_, err := execute(t, "audit", "--config", cfg, "--env-file", envPath)
	require.NoError(t, err)
	assert.Equal(t, "loaded", os.Getenv("REBANO_TEST_MARKER"))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "x")))

	wrapped := WrapExitError(ExitFailure, "pass", errors.New("inner"))
	assert.Equal(t, "pass: inner", wrapped.Error())
	assert.Equal(t, "inner", errors.Unwrap(wrapped).Error())
}
