package tracking

import (
	"reflect"

	"github.com/vireo-orm/vireo/internal/metadata"
)

// ChangeDetector compares tracked entries against their snapshots and
// dispatches notifications for key and navigation changes. It is pure
// in-memory comparison; no I/O happens here.
type ChangeDetector struct {
	model    *metadata.Model
	notifier *ChangeNotifier
}

func NewChangeDetector(model *metadata.Model, notifier *ChangeNotifier) *ChangeDetector {
	if model == nil {
		panic("tracking: model must not be nil")
	}
	if notifier == nil {
		notifier = NewChangeNotifier()
	}
	return &ChangeDetector{model: model, notifier: notifier}
}

// DetectChanges compares one entry's current values against its original and
// relationship snapshots. It reports whether any new change was found; a
// second call with no intervening mutation reports none.
func (d *ChangeDetector) DetectChanges(e *Entry) bool {
	if e == nil {
		panic("tracking: entry must not be nil")
	}
	changed := false
	for _, p := range e.EntityType.Properties() {
		current := e.Current(p)
		if !structurallyEqual(current, e.Original(p)) {
			if !e.IsModified(p) {
				e.MarkModified(p)
				changed = true
			}
			if e.State() == EntityUnchanged {
				e.SetState(EntityModified)
			}
		}
		if d.detectKeyChange(e, p, current) {
			changed = true
		}
	}
	for _, n := range e.EntityType.Navigations() {
		if d.detectNavigationChange(e, n) {
			changed = true
		}
	}
	return changed
}

// DetectAll runs detection over a stable snapshot of the tracked set.
// Entries discovered mid-pass (fixup) are not visited until the next pass.
// Entries without a struct shape, or that notify their own changes, are
// skipped.
func (d *ChangeDetector) DetectAll(sm *StateManager) bool {
	changed := false
	for _, e := range sm.Entries() {
		if e.EntityType.GoType.Kind() != reflect.Struct {
			continue
		}
		if notifying, ok := e.Entity.(ChangeNotifying); ok && notifying.ChangeNotificationsEnabled() {
			continue
		}
		if d.DetectChanges(e) {
			changed = true
		}
	}
	return changed
}

// detectKeyChange runs the foreign-key and principal-key detectors against
// one property. Both compare the current value with the relationship
// snapshot (which may lag behind the original during multi-step graph
// edits), both always run, and the snapshot refreshes once after both have
// been notified.
func (d *ChangeDetector) detectKeyChange(e *Entry, p *metadata.Property, current interface{}) bool {
	isForeignKey := p.IsForeignKey()
	isPrincipal := p.IsPrimaryKey() || len(d.model.ReferencingForeignKeys(p)) > 0
	if !isForeignKey && !isPrincipal {
		return false
	}

	snapshot, ok := e.RelationshipSnapshot(p)
	if !ok {
		e.TakeRelationshipSnapshot(p)
		return false
	}
	if structurallyEqual(current, snapshot) {
		return false
	}

	if isForeignKey {
		d.notifier.ForeignKeyChanged(e, p, snapshot, current)
	}
	if isPrincipal {
		d.notifier.PrincipalKeyChanged(e, p, snapshot, current)
	}
	e.TakeRelationshipSnapshot(p)
	return true
}

func (d *ChangeDetector) detectNavigationChange(e *Entry, n *metadata.Navigation) bool {
	if n.Collection {
		snapshot, ok := e.NavigationSnapshot(n)
		if !ok {
			e.TakeNavigationSnapshot(n)
			return false
		}
		var snapshotElements []interface{}
		if snapshot != nil {
			snapshotElements = snapshot.([]interface{})
		}
		current := n.CollectionAccessor().Elements(e.Entity)
		added, removed := diffByIdentity(snapshotElements, current)
		if len(added) == 0 && len(removed) == 0 {
			return false
		}
		d.notifier.NavigationCollectionChanged(e, n, added, removed)
		e.TakeNavigationSnapshot(n)
		return true
	}

	current := e.CurrentNavigation(n)
	snapshot, ok := e.NavigationSnapshot(n)
	if !ok {
		e.TakeNavigationSnapshot(n)
		return false
	}
	// Reference navigations compare by identity; two content-equal
	// instances are still a change.
	if sameReference(current, snapshot) {
		return false
	}
	d.notifier.NavigationReferenceChanged(e, n, snapshot, current)
	e.TakeNavigationSnapshot(n)
	return true
}

// diffByIdentity computes the symmetric difference between two element
// lists using reference identity for membership.
func diffByIdentity(snapshot, current []interface{}) (added, removed []interface{}) {
	inSnapshot := make(map[interface{}]bool, len(snapshot))
	for _, el := range snapshot {
		inSnapshot[el] = true
	}
	inCurrent := make(map[interface{}]bool, len(current))
	for _, el := range current {
		inCurrent[el] = true
	}
	for _, el := range current {
		if !inSnapshot[el] {
			added = append(added, el)
		}
	}
	for _, el := range snapshot {
		if !inCurrent[el] {
			removed = append(removed, el)
		}
	}
	return added, removed
}
