package tracking

import (
	"fmt"
	"sync"

	"github.com/vireo-orm/vireo/internal/metadata"
)

// StateManager owns the set of tracked entries for one unit of work: entry
// lookup by instance identity and by primary key, lifecycle transitions and
// the notification fan-out. It subscribes itself for identity-map upkeep and
// graph discovery.
type StateManager struct {
	model     *metadata.Model
	accessors *metadata.AccessorCache

	mu       sync.RWMutex
	entries  map[interface{}]*Entry
	order    []*Entry
	identity *IdentityMap
	notifier *ChangeNotifier
}

func NewStateManager(model *metadata.Model, accessors *metadata.AccessorCache) *StateManager {
	if model == nil {
		panic("tracking: model must not be nil")
	}
	sm := &StateManager{
		model:     model,
		accessors: accessors,
		entries:   make(map[interface{}]*Entry),
		identity:  NewIdentityMap(),
		notifier:  NewChangeNotifier(),
	}
	sm.notifier.Subscribe(sm)
	return sm
}

func (sm *StateManager) Model() *metadata.Model { return sm.model }

func (sm *StateManager) Notifier() *ChangeNotifier { return sm.notifier }

// StartTracking creates (or re-states) the entry for an entity instance.
// Relationship snapshots are taken immediately; original values stay lazy.
func (sm *StateManager) StartTracking(entity interface{}, state EntityState) (*Entry, error) {
	key := entityPointer(entity)
	entityType := sm.model.EntityFor(entity)
	if entityType == nil {
		return nil, fmt.Errorf("tracking: type %T is not part of the model", entity)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if existing, ok := sm.entries[key]; ok {
		existing.SetState(state)
		return existing, nil
	}

	entry := NewEntry(entityType, entity, sm.accessors, state)
	entry.TakeAllRelationshipSnapshots(sm.model)
	if state != EntityAdded {
		// Loaded instances re-baseline here; added ones have no persisted
		// original to snapshot yet.
		entry.EnsureOriginal()
	}
	sm.entries[key] = entry
	sm.order = append(sm.order, entry)
	sm.identity.Add(entry)
	return entry, nil
}

// TryGetEntry finds the entry tracking an instance.
func (sm *StateManager) TryGetEntry(entity interface{}) (*Entry, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	e, ok := sm.entries[entityPointer(entity)]
	return e, ok
}

// LookupByKey resolves an entry through the identity map.
func (sm *StateManager) LookupByKey(entityType *metadata.EntityType, keyValues ...interface{}) (*Entry, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.identity.Lookup(entityType, keyValues...)
}

// Detach stops tracking an instance.
func (sm *StateManager) Detach(entity interface{}) {
	key := entityPointer(entity)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	entry, ok := sm.entries[key]
	if !ok {
		return
	}
	delete(sm.entries, key)
	for i, e := range sm.order {
		if e == entry {
			sm.order = append(sm.order[:i], sm.order[i+1:]...)
			break
		}
	}
	sm.identity.Remove(entry.EntityType, entry.KeyValues()...)
}

// Entries returns a stable copy of the tracked set. Entries added while the
// caller iterates (for example by fixup during detection) are not included.
func (sm *StateManager) Entries() []*Entry {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]*Entry, len(sm.order))
	copy(result, sm.order)
	return result
}

func (sm *StateManager) HasChanges() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, e := range sm.order {
		if e.State() != EntityUnchanged {
			return true
		}
	}
	return false
}

// ChangedEntries returns tracked entries whose state is not Unchanged, in
// tracking order.
func (sm *StateManager) ChangedEntries() []*Entry {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	var result []*Entry
	for _, e := range sm.order {
		if e.State() != EntityUnchanged {
			result = append(result, e)
		}
	}
	return result
}

// AcceptAllChanges re-baselines every entry after a successful save and
// drops deleted ones.
func (sm *StateManager) AcceptAllChanges() {
	sm.mu.Lock()
	var deleted []*Entry
	for _, e := range sm.order {
		if e.State() == EntityDeleted {
			deleted = append(deleted, e)
			continue
		}
		e.AcceptChanges()
		sm.identity.Add(e)
	}
	sm.mu.Unlock()
	for _, e := range deleted {
		sm.Detach(e.Entity)
	}
}

// Clear drops every tracked entry.
func (sm *StateManager) Clear() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.entries = make(map[interface{}]*Entry)
	sm.order = nil
	sm.identity = NewIdentityMap()
}

// RelationshipListener implementation.

func (sm *StateManager) ForeignKeyChanged(entry *Entry, property *metadata.Property, oldValue, newValue interface{}) {
	if entry.State() == EntityUnchanged {
		entry.SetState(EntityModified)
	}
}

func (sm *StateManager) PrincipalKeyChanged(entry *Entry, property *metadata.Property, oldValue, newValue interface{}) {
	if !property.IsPrimaryKey() {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.identity.UpdateKey(entry, property, oldValue)
}

func (sm *StateManager) NavigationReferenceChanged(entry *Entry, navigation *metadata.Navigation, oldValue, newValue interface{}) {
	if newValue == nil || isNilValue(newValue) {
		return
	}
	if _, tracked := sm.TryGetEntry(newValue); !tracked {
		// Newly referenced instances join the graph as added.
		_, _ = sm.StartTracking(newValue, EntityAdded)
	}
}

func (sm *StateManager) NavigationCollectionChanged(entry *Entry, navigation *metadata.Navigation, added, removed []interface{}) {
	for _, element := range added {
		if _, tracked := sm.TryGetEntry(element); !tracked {
			_, _ = sm.StartTracking(element, EntityAdded)
		}
	}
}
