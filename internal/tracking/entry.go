package tracking

import (
	"fmt"
	"reflect"

	"github.com/vireo-orm/vireo/internal/metadata"
)

type EntityState int

const (
	EntityUnchanged EntityState = iota
	EntityAdded
	EntityModified
	EntityDeleted
)

func (s EntityState) String() string {
	switch s {
	case EntityUnchanged:
		return "Unchanged"
	case EntityAdded:
		return "Added"
	case EntityModified:
		return "Modified"
	case EntityDeleted:
		return "Deleted"
	}
	return fmt.Sprintf("EntityState(%d)", int(s))
}

// Entry wraps one tracked entity instance together with its three value
// stores: live current values, lazily snapshotted original values, and the
// relationship snapshot holding foreign-key and navigation values as of the
// last detection pass.
type Entry struct {
	EntityType *metadata.EntityType
	Entity     interface{}

	accessors *metadata.AccessorCache
	state     EntityState

	original    []interface{}
	hasOriginal bool

	shadowValues []interface{}

	relProperties  map[*metadata.Property]interface{}
	relNavigations map[*metadata.Navigation]interface{}

	modified map[*metadata.Property]bool
}

func NewEntry(entityType *metadata.EntityType, entity interface{}, accessors *metadata.AccessorCache, state EntityState) *Entry {
	if entityType == nil {
		panic("tracking: entity type must not be nil")
	}
	if entity == nil {
		panic("tracking: entity must not be nil")
	}
	return &Entry{
		EntityType:     entityType,
		Entity:         entity,
		accessors:      accessors,
		state:          state,
		shadowValues:   make([]interface{}, entityType.ShadowPropertyCount()),
		relProperties:  make(map[*metadata.Property]interface{}),
		relNavigations: make(map[*metadata.Navigation]interface{}),
		modified:       make(map[*metadata.Property]bool),
	}
}

func (e *Entry) State() EntityState { return e.state }

func (e *Entry) SetState(s EntityState) { e.state = s }

// Current reads the live value of a property: the struct field for regular
// properties, the entry-local slot for shadow properties.
func (e *Entry) Current(p *metadata.Property) interface{} {
	e.mustOwn(p)
	if p.Shadow {
		return e.shadowValues[p.ShadowIndex()]
	}
	acc, err := e.accessors.FieldAccessor(e.EntityType.GoType, p.Name)
	if err != nil {
		panic(fmt.Sprintf("tracking: %v", err))
	}
	return acc.Get(e.Entity)
}

// SetCurrent writes through to the live store, so database-generated values
// land on the entity instance itself.
func (e *Entry) SetCurrent(p *metadata.Property, value interface{}) {
	e.mustOwn(p)
	if p.Shadow {
		e.shadowValues[p.ShadowIndex()] = value
		return
	}
	acc, err := e.accessors.FieldAccessor(e.EntityType.GoType, p.Name)
	if err != nil {
		panic(fmt.Sprintf("tracking: %v", err))
	}
	acc.Set(e.Entity, value)
}

// HasOriginal reports whether the original-value snapshot has been taken.
func (e *Entry) HasOriginal() bool { return e.hasOriginal }

// EnsureOriginal snapshots current values as originals if not done yet.
func (e *Entry) EnsureOriginal() {
	if e.hasOriginal {
		return
	}
	props := e.EntityType.Properties()
	e.original = make([]interface{}, len(props))
	for _, p := range props {
		e.original[p.Index()] = deepCopy(e.Current(p))
	}
	e.hasOriginal = true
}

// Original returns the as-last-persisted value of a property, snapshotting
// lazily on first access.
func (e *Entry) Original(p *metadata.Property) interface{} {
	e.mustOwn(p)
	e.EnsureOriginal()
	return e.original[p.Index()]
}

func (e *Entry) SetOriginal(p *metadata.Property, value interface{}) {
	e.mustOwn(p)
	e.EnsureOriginal()
	e.original[p.Index()] = value
}

// RelationshipSnapshot returns the snapshot value of a foreign-key property
// and whether one has been taken.
func (e *Entry) RelationshipSnapshot(p *metadata.Property) (interface{}, bool) {
	e.mustOwn(p)
	v, ok := e.relProperties[p]
	return v, ok
}

// TakeRelationshipSnapshot refreshes the snapshot of a property from its
// current value.
func (e *Entry) TakeRelationshipSnapshot(p *metadata.Property) {
	e.mustOwn(p)
	e.relProperties[p] = deepCopy(e.Current(p))
}

// NavigationSnapshot returns the snapshot of a navigation: the referenced
// instance for references, a []interface{} of members for collections.
func (e *Entry) NavigationSnapshot(n *metadata.Navigation) (interface{}, bool) {
	v, ok := e.relNavigations[n]
	return v, ok
}

// TakeNavigationSnapshot refreshes the snapshot of a navigation. Collection
// snapshots copy the member list, not the members.
func (e *Entry) TakeNavigationSnapshot(n *metadata.Navigation) {
	if n.Collection {
		e.relNavigations[n] = n.CollectionAccessor().Elements(e.Entity)
		return
	}
	e.relNavigations[n] = e.CurrentNavigation(n)
}

// TakeAllRelationshipSnapshots snapshots every key property and navigation,
// typically right after an instance becomes tracked.
func (e *Entry) TakeAllRelationshipSnapshots(model *metadata.Model) {
	for _, p := range e.EntityType.Properties() {
		if p.IsForeignKey() || p.IsPrimaryKey() || len(model.ReferencingForeignKeys(p)) > 0 {
			e.TakeRelationshipSnapshot(p)
		}
	}
	for _, n := range e.EntityType.Navigations() {
		e.TakeNavigationSnapshot(n)
	}
}

// CurrentNavigation reads the live value of a reference navigation.
func (e *Entry) CurrentNavigation(n *metadata.Navigation) interface{} {
	if n.Collection {
		panic(fmt.Sprintf("tracking: %s.%s is a collection navigation", e.EntityType.Name, n.Name))
	}
	acc, err := e.accessors.FieldAccessor(e.EntityType.GoType, n.Name)
	if err != nil {
		panic(fmt.Sprintf("tracking: %v", err))
	}
	return acc.Get(e.Entity)
}

func (e *Entry) MarkModified(p *metadata.Property) {
	e.mustOwn(p)
	e.modified[p] = true
}

func (e *Entry) IsModified(p *metadata.Property) bool {
	return e.modified[p]
}

// ModifiedProperties returns the modified set in declaration order.
func (e *Entry) ModifiedProperties() []*metadata.Property {
	var result []*metadata.Property
	for _, p := range e.EntityType.Properties() {
		if e.modified[p] {
			result = append(result, p)
		}
	}
	return result
}

// AcceptChanges re-baselines the entry after a successful save: current
// values become the new originals, modifications clear, state resets.
func (e *Entry) AcceptChanges() {
	e.hasOriginal = false
	e.original = nil
	e.EnsureOriginal()
	e.modified = make(map[*metadata.Property]bool)
	e.state = EntityUnchanged
}

// KeyValues returns the current primary-key values in key order.
func (e *Entry) KeyValues() []interface{} {
	pk := e.EntityType.PrimaryKey()
	values := make([]interface{}, len(pk))
	for i, p := range pk {
		values[i] = e.Current(p)
	}
	return values
}

func (e *Entry) mustOwn(p *metadata.Property) {
	if p == nil {
		panic(fmt.Sprintf("tracking: nil property on entry of %s", e.EntityType.Name))
	}
	if p.DeclaringType != e.EntityType {
		panic(fmt.Sprintf("tracking: property %s.%s does not belong to tracked type %s", p.DeclaringType.Name, p.Name, e.EntityType.Name))
	}
	if e.EntityType.Property(p.Name) == nil {
		panic(fmt.Sprintf("tracking: no metadata for property %s on %s", p.Name, e.EntityType.Name))
	}
}

// entityPointer normalizes a tracked instance to its pointer identity.
func entityPointer(entity interface{}) interface{} {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("tracking: entities must be tracked by pointer, got %T", entity))
	}
	return entity
}
