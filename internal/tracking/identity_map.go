package tracking

import (
	"fmt"
	"strings"

	"github.com/vireo-orm/vireo/internal/metadata"
)

// IdentityMap resolves tracked entries by entity type and primary-key value,
// so a key value always maps to at most one instance.
type IdentityMap struct {
	entries map[string]*Entry
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[string]*Entry)}
}

// Add registers the entry under its current key values. Entries with unset
// (zero) keys are skipped; they get added once the store generates the key.
func (m *IdentityMap) Add(e *Entry) {
	values := e.KeyValues()
	if len(values) == 0 {
		return
	}
	for _, v := range values {
		if IsZero(v) {
			return
		}
	}
	m.entries[identityKey(e.EntityType, values)] = e
}

// Lookup finds the entry tracked under the given key values.
func (m *IdentityMap) Lookup(entityType *metadata.EntityType, keyValues ...interface{}) (*Entry, bool) {
	e, ok := m.entries[identityKey(entityType, keyValues)]
	return e, ok
}

// Remove drops the mapping for the given key values.
func (m *IdentityMap) Remove(entityType *metadata.EntityType, keyValues ...interface{}) {
	delete(m.entries, identityKey(entityType, keyValues))
}

// UpdateKey re-homes an entry whose primary-key property changed: the
// mapping under the old (pre-change) value is removed before the entry is
// registered under its new key, so stale lookups cannot resolve to it.
func (m *IdentityMap) UpdateKey(e *Entry, p *metadata.Property, oldValue interface{}) {
	pk := e.EntityType.PrimaryKey()
	oldValues := make([]interface{}, len(pk))
	for i, kp := range pk {
		if kp == p {
			oldValues[i] = oldValue
		} else {
			oldValues[i] = e.Current(kp)
		}
	}
	m.Remove(e.EntityType, oldValues...)
	m.Add(e)
}

// identityKey renders the map key. Values carry their dynamic type so that,
// say, int(1) and "1" never collide.
func identityKey(entityType *metadata.EntityType, values []interface{}) string {
	var sb strings.Builder
	sb.WriteString(entityType.Name)
	for _, v := range values {
		fmt.Fprintf(&sb, ":%T=%v", v, v)
	}
	return sb.String()
}
