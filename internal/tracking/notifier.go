package tracking

import "github.com/vireo-orm/vireo/internal/metadata"

// RelationshipListener receives detected key and navigation changes.
// Implementations keep dependent state (identity map, fixup, graph
// discovery) consistent.
type RelationshipListener interface {
	// ForeignKeyChanged fires when a foreign-key property's current value
	// diverges from its relationship snapshot.
	ForeignKeyChanged(entry *Entry, property *metadata.Property, oldValue, newValue interface{})

	// PrincipalKeyChanged fires when a primary-key property, or a property
	// referenced by a foreign key elsewhere in the model, diverges from its
	// relationship snapshot.
	PrincipalKeyChanged(entry *Entry, property *metadata.Property, oldValue, newValue interface{})

	// NavigationReferenceChanged fires when a reference navigation points at
	// a different instance than its snapshot.
	NavigationReferenceChanged(entry *Entry, navigation *metadata.Navigation, oldValue, newValue interface{})

	// NavigationCollectionChanged fires with the identity-based symmetric
	// difference between a collection navigation and its snapshot. At least
	// one of added/removed is non-empty.
	NavigationCollectionChanged(entry *Entry, navigation *metadata.Navigation, added, removed []interface{})
}

// ChangeNotifier relays detected changes to every subscribed listener, in
// subscription order.
type ChangeNotifier struct {
	listeners []RelationshipListener
}

func NewChangeNotifier() *ChangeNotifier {
	return &ChangeNotifier{}
}

func (n *ChangeNotifier) Subscribe(l RelationshipListener) {
	if l == nil {
		panic("tracking: listener must not be nil")
	}
	n.listeners = append(n.listeners, l)
}

func (n *ChangeNotifier) ForeignKeyChanged(entry *Entry, property *metadata.Property, oldValue, newValue interface{}) {
	for _, l := range n.listeners {
		l.ForeignKeyChanged(entry, property, oldValue, newValue)
	}
}

func (n *ChangeNotifier) PrincipalKeyChanged(entry *Entry, property *metadata.Property, oldValue, newValue interface{}) {
	for _, l := range n.listeners {
		l.PrincipalKeyChanged(entry, property, oldValue, newValue)
	}
}

func (n *ChangeNotifier) NavigationReferenceChanged(entry *Entry, navigation *metadata.Navigation, oldValue, newValue interface{}) {
	for _, l := range n.listeners {
		l.NavigationReferenceChanged(entry, navigation, oldValue, newValue)
	}
}

func (n *ChangeNotifier) NavigationCollectionChanged(entry *Entry, navigation *metadata.Navigation, added, removed []interface{}) {
	for _, l := range n.listeners {
		l.NavigationCollectionChanged(entry, navigation, added, removed)
	}
}

// ChangeNotifying is implemented by entity types that push their own change
// notifications to the tracker; snapshot comparison is redundant for them
// and the detector skips their entries.
type ChangeNotifying interface {
	ChangeNotificationsEnabled() bool
}
