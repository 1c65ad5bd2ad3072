package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireo-orm/vireo/internal/metadata"
)

type recordingListener struct {
	foreignKey  []string
	principal   []string
	references  []string
	collections int
	added       int
	removed     int
}

func (r *recordingListener) ForeignKeyChanged(entry *Entry, property *metadata.Property, oldValue, newValue interface{}) {
	r.foreignKey = append(r.foreignKey, property.Name)
}

func (r *recordingListener) PrincipalKeyChanged(entry *Entry, property *metadata.Property, oldValue, newValue interface{}) {
	r.principal = append(r.principal, property.Name)
}

func (r *recordingListener) NavigationReferenceChanged(entry *Entry, navigation *metadata.Navigation, oldValue, newValue interface{}) {
	r.references = append(r.references, navigation.Name)
}

func (r *recordingListener) NavigationCollectionChanged(entry *Entry, navigation *metadata.Navigation, added, removed []interface{}) {
	r.collections++
	r.added += len(added)
	r.removed += len(removed)
}

func newDetectorFixture(t *testing.T) (*StateManager, *ChangeDetector, *recordingListener) {
	t.Helper()
	f := newFixture(t, nil, user{}, blog{}, post{})
	sm := NewStateManager(f.model, f.cache)
	listener := &recordingListener{}
	sm.Notifier().Subscribe(listener)
	detector := NewChangeDetector(f.model, sm.Notifier())
	return sm, detector, listener
}

func TestDetectPropertyChange(t *testing.T) {
	sm, detector, _ := newDetectorFixture(t)
	u := &user{Id: 1, Name: "ada"}
	entry, err := sm.StartTracking(u, EntityUnchanged)
	require.NoError(t, err)

	u.Name = "grace"
	assert.True(t, detector.DetectChanges(entry))
	assert.Equal(t, EntityModified, entry.State())
	require.Len(t, entry.ModifiedProperties(), 1)
	assert.Equal(t, "Name", entry.ModifiedProperties()[0].Name)

	// A second pass with no further mutation finds nothing new.
	assert.False(t, detector.DetectChanges(entry))
}

func TestDetectForeignKeyChangeNotifiesExactlyOnce(t *testing.T) {
	sm, detector, listener := newDetectorFixture(t)
	p := &post{Id: 1, Title: "intro", BlogId: 1}
	entry, err := sm.StartTracking(p, EntityUnchanged)
	require.NoError(t, err)

	p.BlogId = 2
	assert.True(t, detector.DetectChanges(entry))
	assert.Equal(t, []string{"BlogId"}, listener.foreignKey)
	assert.Equal(t, EntityModified, entry.State())

	detector.DetectChanges(entry)
	assert.Equal(t, []string{"BlogId"}, listener.foreignKey, "refreshed snapshot suppresses repeat notifications")
}

func TestDetectPrincipalKeyChangeRehomesIdentity(t *testing.T) {
	sm, detector, listener := newDetectorFixture(t)
	b := &blog{Id: 1, Url: "a"}
	entry, err := sm.StartTracking(b, EntityUnchanged)
	require.NoError(t, err)

	blogType := sm.Model().EntityFor(b)
	_, found := sm.LookupByKey(blogType, 1)
	require.True(t, found)

	b.Id = 2
	assert.True(t, detector.DetectChanges(entry))
	assert.Contains(t, listener.principal, "Id")

	_, found = sm.LookupByKey(blogType, 1)
	assert.False(t, found, "the old key no longer resolves")
	rehomed, found := sm.LookupByKey(blogType, 2)
	require.True(t, found)
	assert.Same(t, entry, rehomed)
}

func TestPrincipalNotificationFiresOncePerProperty(t *testing.T) {
	// blog.Id is the primary key and is referenced by post.BlogId; one pass
	// still produces a single principal notification for it.
	sm, detector, listener := newDetectorFixture(t)
	b := &blog{Id: 3}
	entry, err := sm.StartTracking(b, EntityUnchanged)
	require.NoError(t, err)

	b.Id = 4
	detector.DetectChanges(entry)
	assert.Equal(t, []string{"Id"}, listener.principal)
	assert.Empty(t, listener.foreignKey)
}

func TestDetectNavigationReferenceChangeByIdentity(t *testing.T) {
	sm, detector, listener := newDetectorFixture(t)
	original := &blog{Id: 1, Url: "a"}
	p := &post{Id: 1, Blog: original}
	_, err := sm.StartTracking(original, EntityUnchanged)
	require.NoError(t, err)
	entry, err := sm.StartTracking(p, EntityUnchanged)
	require.NoError(t, err)

	// A content-equal but distinct instance still counts as a change.
	replacement := &blog{Id: 1, Url: "a"}
	p.Blog = replacement
	assert.True(t, detector.DetectChanges(entry))
	assert.Equal(t, []string{"Blog"}, listener.references)

	// Graph discovery attached the replacement as added.
	discovered, tracked := sm.TryGetEntry(replacement)
	require.True(t, tracked)
	assert.Equal(t, EntityAdded, discovered.State())
}

func TestDetectCollectionChangeDiscoversAddedMembers(t *testing.T) {
	sm, detector, listener := newDetectorFixture(t)
	b := &blog{Id: 1}
	entry, err := sm.StartTracking(b, EntityUnchanged)
	require.NoError(t, err)

	newPost := &post{Id: 2, Title: "fresh"}
	b.Posts = append(b.Posts, newPost)
	assert.True(t, detector.DetectChanges(entry))
	assert.Equal(t, 1, listener.collections)
	assert.Equal(t, 1, listener.added)
	assert.Equal(t, 0, listener.removed)

	discovered, tracked := sm.TryGetEntry(newPost)
	require.True(t, tracked)
	assert.Equal(t, EntityAdded, discovered.State())
}

func TestDetectCollectionRemoval(t *testing.T) {
	sm, detector, listener := newDetectorFixture(t)
	member := &post{Id: 2}
	b := &blog{Id: 1, Posts: []*post{member}}
	entry, err := sm.StartTracking(b, EntityUnchanged)
	require.NoError(t, err)

	b.Posts = nil
	assert.True(t, detector.DetectChanges(entry))
	assert.Equal(t, 1, listener.collections)
	assert.Equal(t, 0, listener.added)
	assert.Equal(t, 1, listener.removed)
}

func TestDetectAllUsesStableSnapshot(t *testing.T) {
	sm, detector, _ := newDetectorFixture(t)
	b := &blog{Id: 1}
	_, err := sm.StartTracking(b, EntityUnchanged)
	require.NoError(t, err)

	// The member discovered mid-pass joins the tracker but is not visited
	// until the next pass.
	b.Posts = append(b.Posts, &post{Id: 2, Title: "fresh"})
	assert.True(t, detector.DetectAll(sm))
	require.Len(t, sm.Entries(), 2)

	assert.False(t, detector.DetectAll(sm), "second pass finds nothing new")
}

type notifyingEntity struct {
	Id   int
	Name string
}

func (*notifyingEntity) ChangeNotificationsEnabled() bool { return true }

func TestDetectAllSkipsSelfNotifyingEntities(t *testing.T) {
	f := newFixture(t, nil, notifyingEntity{})
	sm := NewStateManager(f.model, f.cache)
	detector := NewChangeDetector(f.model, sm.Notifier())

	n := &notifyingEntity{Id: 1, Name: "a"}
	entry, err := sm.StartTracking(n, EntityUnchanged)
	require.NoError(t, err)

	n.Name = "b"
	assert.False(t, detector.DetectAll(sm))
	assert.Equal(t, EntityUnchanged, entry.State())
}

func TestDetectorContractViolations(t *testing.T) {
	_, detector, _ := newDetectorFixture(t)
	assert.Panics(t, func() { detector.DetectChanges(nil) })
	assert.Panics(t, func() { NewChangeDetector(nil, nil) })
}
