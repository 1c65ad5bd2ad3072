package update

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireo-orm/vireo/internal/metadata"
	"github.com/vireo-orm/vireo/internal/tracking"
)

type account struct {
	Id      int
	Name    string
	Balance float64
	Version int    `vireo:"concurrency"`
	Legacy  string `vireo:"readonly"`
}

type updateFixture struct {
	model *metadata.Model
	cache *metadata.AccessorCache
}

func newUpdateFixture(t *testing.T) *updateFixture {
	t.Helper()
	cache := metadata.NewAccessorCache()
	builder := metadata.NewBuilder(cache)
	builder.AddEntity(account{})
	model, err := builder.Build()
	require.NoError(t, err)
	return &updateFixture{model: model, cache: cache}
}

func (f *updateFixture) entry(t *testing.T, entity interface{}, state tracking.EntityState) *tracking.Entry {
	t.Helper()
	entityType := f.model.EntityFor(entity)
	require.NotNil(t, entityType)
	e := tracking.NewEntry(entityType, entity, f.cache, state)
	e.TakeAllRelationshipSnapshots(f.model)
	return e
}

func TestParameterNameSequencesAreIndependent(t *testing.T) {
	g := NewParameterNameGenerator()
	assert.Equal(t, "p0", g.NextWrite())
	assert.Equal(t, "p1", g.NextWrite())
	assert.Equal(t, "o0", g.NextOriginal())
	assert.Equal(t, "r0", g.NextOutput())
	assert.Equal(t, "p2", g.NextWrite())
	assert.Equal(t, "o1", g.NextOriginal())
}

func TestColumnModificationNamesMatchFlags(t *testing.T) {
	f := newUpdateFixture(t)
	entry := f.entry(t, &account{Id: 1, Name: "ada"}, tracking.EntityModified)
	name := entry.EntityType.Property("Name")
	id := entry.EntityType.Property("Id")
	g := NewParameterNameGenerator()

	write := NewColumnModification(entry, name, g, false, true, false, false)
	assert.Equal(t, "p0", write.ParameterName)
	assert.Empty(t, write.OriginalParameterName)
	assert.Empty(t, write.OutputParameterName)

	condition := NewColumnModification(entry, id, g, false, false, true, true)
	assert.Empty(t, condition.ParameterName)
	assert.Equal(t, "o0", condition.OriginalParameterName)
	assert.Empty(t, condition.OutputParameterName)

	read := NewColumnModification(entry, id, g, true, false, true, false)
	assert.Empty(t, read.ParameterName)
	assert.Empty(t, read.OriginalParameterName)
	assert.Equal(t, "r0", read.OutputParameterName)

	// A sequence only advances when a name was actually handed out.
	second := NewColumnModification(entry, name, g, false, true, false, false)
	assert.Equal(t, "p1", second.ParameterName)
}

func TestColumnModificationValueWritesThrough(t *testing.T) {
	f := newUpdateFixture(t)
	a := &account{Id: 1, Name: "ada"}
	entry := f.entry(t, a, tracking.EntityAdded)
	name := entry.EntityType.Property("Name")
	g := NewParameterNameGenerator()

	cm := NewColumnModification(entry, name, g, false, true, false, false)
	assert.Equal(t, "ada", cm.Value())

	cm.SetValue("grace")
	assert.Equal(t, "grace", a.Name)
}

func TestColumnModificationOriginalValueSynthesis(t *testing.T) {
	f := newUpdateFixture(t)
	a := &account{Id: 1, Name: "ada"}
	entry := f.entry(t, a, tracking.EntityAdded)
	name := entry.EntityType.Property("Name")
	g := NewParameterNameGenerator()
	cm := NewColumnModification(entry, name, g, false, false, false, true)

	// No snapshot yet: the current value stands in.
	assert.Equal(t, "ada", cm.OriginalValue())

	entry.EnsureOriginal()
	a.Name = "grace"
	assert.Equal(t, "ada", cm.OriginalValue())
	assert.Equal(t, "grace", cm.Value())
}

func TestColumnModificationContractViolations(t *testing.T) {
	f := newUpdateFixture(t)
	entry := f.entry(t, &account{Id: 1}, tracking.EntityAdded)
	name := entry.EntityType.Property("Name")
	g := NewParameterNameGenerator()

	assert.Panics(t, func() { NewColumnModification(nil, name, g, false, true, false, false) })
	assert.Panics(t, func() { NewColumnModification(entry, nil, g, false, true, false, false) })
	assert.Panics(t, func() { NewColumnModification(entry, name, nil, false, true, false, false) })
}
