package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"odrive/pkg/acm"
	"odrive/pkg/grants"
	"odrive/pkg/hierarchy"
	"odrive/pkg/types"
)

type fakeObjects struct {
	objects map[types.ObjectID]*types.Object
}

func (f *fakeObjects) GetObject(id types.ObjectID) (*types.Object, bool) {
	obj, ok := f.objects[id]
	return obj, ok
}

type fixture struct {
	objects   *fakeObjects
	grants    *grants.Store
	hierarchy *hierarchy.Index
	eval      *Evaluator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		objects:   &fakeObjects{objects: make(map[types.ObjectID]*types.Object)},
		grants:    grants.NewStore(),
		hierarchy: hierarchy.NewIndex(),
	}
	f.eval = NewEvaluator(f.objects, f.grants, f.hierarchy, zap.NewNop())
	return f
}

func (f *fixture) addObject(t *testing.T, id, parentID types.ObjectID, classif string) {
	t.Helper()
	banner := map[string]string{"U": "UNCLASSIFIED", "C": "CONFIDENTIAL", "S": "SECRET", "TS": "TOP SECRET"}[classif]
	marking, err := acm.Validate(acm.ACM{Version: "2.1.0", Classif: classif, OverallBanner: banner, PortionMark: classif})
	require.NoError(t, err)
	raw, err := marking.Marshal()
	require.NoError(t, err)

	f.objects.objects[id] = &types.Object{
		ID:       id,
		TypeName: types.TypeFolder,
		ParentID: parentID,
		Name:     string(id),
		RawACM:   raw,
	}
	require.NoError(t, f.hierarchy.Add(id, parentID))
}

func clearedPrincipal(id types.GranteeID, levels ...string) *types.Principal {
	return &types.Principal{
		ID:         id,
		Attributes: types.UserAttributes{Clearance: levels, Country: "USA"},
	}
}

func TestEvaluator_DirectGrant(t *testing.T) {
	f := newFixture(t)
	f.addObject(t, "doc", hierarchy.RootID, "U")

	alice := clearedPrincipal("alice", "u")
	assert.False(t, f.eval.CanPerform(alice, "doc", types.ActionRead))

	f.grants.Upsert("doc", "alice", types.PermissionFlags{Read: true}, false, "owner")
	assert.True(t, f.eval.CanPerform(alice, "doc", types.ActionRead))
	assert.False(t, f.eval.CanPerform(alice, "doc", types.ActionUpdate))
}

// A principal without clearance is denied even with every discretionary
// flag set: the marking gate cannot be overridden by grants.
func TestEvaluator_ACMGateBeatsGrants(t *testing.T) {
	f := newFixture(t)
	f.addObject(t, "secret-doc", hierarchy.RootID, "S")

	lowClearance := clearedPrincipal("pat", "u")
	f.grants.Upsert("secret-doc", "pat", types.AllFlags(), false, "owner")

	for _, action := range []types.Action{types.ActionCreate, types.ActionRead, types.ActionUpdate, types.ActionDelete, types.ActionShare} {
		assert.False(t, f.eval.CanPerform(lowClearance, "secret-doc", action), "action %s", action)
	}

	// The discretionary flags still exist; only the gate fails.
	flags, err := f.eval.EffectiveFlags(lowClearance, "secret-doc")
	require.NoError(t, err)
	assert.True(t, flags.Read)
}

func TestEvaluator_PropagatedGrant(t *testing.T) {
	f := newFixture(t)
	f.addObject(t, "folder", hierarchy.RootID, "U")
	f.addObject(t, "sub", "folder", "U")
	f.addObject(t, "doc", "sub", "U")

	u := clearedPrincipal("u1", "u")
	f.grants.Upsert("folder", "u1", types.PermissionFlags{Read: true}, true, "owner")

	// Inherited two levels down with no direct grant.
	assert.True(t, f.eval.CanPerform(u, "doc", types.ActionRead))

	// A descendant created after the grant inherits too.
	f.addObject(t, "late-doc", "sub", "U")
	assert.True(t, f.eval.CanPerform(u, "late-doc", types.ActionRead))
}

func TestEvaluator_NonPropagatingGrantStops(t *testing.T) {
	f := newFixture(t)
	f.addObject(t, "folder", hierarchy.RootID, "U")
	f.addObject(t, "doc", "folder", "U")

	u := clearedPrincipal("u1", "u")
	f.grants.Upsert("folder", "u1", types.PermissionFlags{Read: true}, false, "owner")

	assert.True(t, f.eval.CanPerform(u, "folder", types.ActionRead))
	assert.False(t, f.eval.CanPerform(u, "doc", types.ActionRead))
}

func TestEvaluator_UnionOfAncestorGrants(t *testing.T) {
	f := newFixture(t)
	f.addObject(t, "top", hierarchy.RootID, "U")
	f.addObject(t, "mid", "top", "U")
	f.addObject(t, "doc", "mid", "U")

	u := clearedPrincipal("u1", "u")
	f.grants.Upsert("top", "u1", types.PermissionFlags{Read: true}, true, "owner")
	f.grants.Upsert("mid", "u1", types.PermissionFlags{Update: true}, true, "owner")
	f.grants.Upsert("doc", "u1", types.PermissionFlags{Delete: true}, false, "owner")

	assert.True(t, f.eval.CanPerform(u, "doc", types.ActionRead))
	assert.True(t, f.eval.CanPerform(u, "doc", types.ActionUpdate))
	assert.True(t, f.eval.CanPerform(u, "doc", types.ActionDelete))
	assert.False(t, f.eval.CanPerform(u, "doc", types.ActionShare))
}

// Revoking or shrinking a grant takes effect immediately, through the
// cache, for every descendant.
func TestEvaluator_RevocationInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	f.addObject(t, "folder", hierarchy.RootID, "U")
	f.addObject(t, "doc", "folder", "U")

	u := clearedPrincipal("u1", "u")
	f.grants.Upsert("folder", "u1", types.PermissionFlags{Read: true, Update: true}, true, "owner")
	require.True(t, f.eval.CanPerform(u, "doc", types.ActionUpdate))

	// Shrink.
	f.grants.Upsert("folder", "u1", types.PermissionFlags{Read: true}, true, "owner")
	assert.False(t, f.eval.CanPerform(u, "doc", types.ActionUpdate))
	assert.True(t, f.eval.CanPerform(u, "doc", types.ActionRead))

	// Revoke.
	f.grants.Revoke("folder", "u1")
	assert.False(t, f.eval.CanPerform(u, "doc", types.ActionRead))
}

func TestEvaluator_HierarchyChangeInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	f.addObject(t, "shared", hierarchy.RootID, "U")
	f.addObject(t, "private", hierarchy.RootID, "U")
	f.addObject(t, "doc", "shared", "U")

	u := clearedPrincipal("u1", "u")
	f.grants.Upsert("shared", "u1", types.PermissionFlags{Read: true}, true, "owner")
	require.True(t, f.eval.CanPerform(u, "doc", types.ActionRead))

	// Moving the doc out from under the shared folder withdraws the
	// inherited read.
	require.NoError(t, f.hierarchy.Move("doc", "private"))
	assert.False(t, f.eval.CanPerform(u, "doc", types.ActionRead))
}

func TestEvaluator_CacheServesRepeatedChecks(t *testing.T) {
	f := newFixture(t)
	f.addObject(t, "doc", hierarchy.RootID, "U")

	u := clearedPrincipal("u1", "u")
	f.grants.Upsert("doc", "u1", types.PermissionFlags{Read: true}, false, "owner")
	f.eval.SetCacheTTL(time.Minute)

	for i := 0; i < 50; i++ {
		assert.True(t, f.eval.CanPerform(u, "doc", types.ActionRead))
	}
}

func TestEvaluator_UnknownObjectDenied(t *testing.T) {
	f := newFixture(t)
	u := clearedPrincipal("u1", "u")
	assert.False(t, f.eval.CanPerform(u, "missing", types.ActionRead))
}
