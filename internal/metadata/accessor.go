package metadata

import (
	"fmt"
	"reflect"
	"sync"
)

// FieldAccessor reads and writes one exported struct field, resolved once per
// (type, member) pair.
type FieldAccessor struct {
	declaring  reflect.Type
	name       string
	fieldIndex int
}

// Get returns the field value. The entity may be a struct or a pointer to
// one.
func (a *FieldAccessor) Get(entity interface{}) interface{} {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v.Field(a.fieldIndex).Interface()
}

// Set writes the field value through a pointer entity, converting assignable
// values (e.g. an int64 scanned from the database into an int field).
func (a *FieldAccessor) Set(entity interface{}, value interface{}) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("metadata: cannot set %s.%s on a non-pointer entity", a.declaring.Name(), a.name))
	}
	field := v.Elem().Field(a.fieldIndex)
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return
	}
	rv := reflect.ValueOf(value)
	if rv.Type() != field.Type() {
		if !rv.Type().ConvertibleTo(field.Type()) {
			panic(fmt.Sprintf("metadata: cannot assign %T to %s.%s (%s)", value, a.declaring.Name(), a.name, field.Type()))
		}
		rv = rv.Convert(field.Type())
	}
	field.Set(rv)
}

// CollectionAccessor binds a collection navigation member: a slice of
// pointers to a mapped struct type. It is the polymorphic capability
// {get, set, create-and-set} resolved once and cached.
type CollectionAccessor struct {
	declaring  reflect.Type
	name       string
	fieldIndex int
	sliceType  reflect.Type
}

// Get returns the collection value and whether it is non-nil.
func (a *CollectionAccessor) Get(entity interface{}) (interface{}, bool) {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	field := v.Field(a.fieldIndex)
	if field.IsNil() {
		return nil, false
	}
	return field.Interface(), true
}

// Set replaces the collection value on a pointer entity.
func (a *CollectionAccessor) Set(entity interface{}, collection interface{}) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("metadata: cannot set %s.%s on a non-pointer entity", a.declaring.Name(), a.name))
	}
	field := v.Elem().Field(a.fieldIndex)
	if collection == nil {
		field.Set(reflect.Zero(a.sliceType))
		return
	}
	field.Set(reflect.ValueOf(collection))
}

// CreateAndSet assigns a fresh empty collection and returns it.
func (a *CollectionAccessor) CreateAndSet(entity interface{}) interface{} {
	created := reflect.MakeSlice(a.sliceType, 0, 0)
	reflect.ValueOf(entity).Elem().Field(a.fieldIndex).Set(created)
	return created.Interface()
}

// Elements returns the collection members boxed as interfaces. Members are
// pointers, so interface equality is reference identity.
func (a *CollectionAccessor) Elements(entity interface{}) []interface{} {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	field := v.Field(a.fieldIndex)
	if field.IsNil() {
		return nil
	}
	result := make([]interface{}, field.Len())
	for i := 0; i < field.Len(); i++ {
		result[i] = field.Index(i).Interface()
	}
	return result
}

// Add appends an element to the collection, creating it when nil.
func (a *CollectionAccessor) Add(entity interface{}, element interface{}) {
	field := reflect.ValueOf(entity).Elem().Field(a.fieldIndex)
	field.Set(reflect.Append(field, reflect.ValueOf(element)))
}

type accessorKey struct {
	declaring reflect.Type
	member    string
}

// AccessorCache memoizes resolved accessors per (declaring type, member
// name). Metadata is built once and consulted from many goroutines, so
// lookups and insert-if-absent must be safe for concurrent use.
type AccessorCache struct {
	mu          sync.RWMutex
	fields      map[accessorKey]*FieldAccessor
	collections map[accessorKey]*CollectionAccessor
}

func NewAccessorCache() *AccessorCache {
	return &AccessorCache{
		fields:      make(map[accessorKey]*FieldAccessor),
		collections: make(map[accessorKey]*CollectionAccessor),
	}
}

// FieldAccessor resolves the accessor for an exported scalar or reference
// member.
func (c *AccessorCache) FieldAccessor(declaring reflect.Type, member string) (*FieldAccessor, error) {
	key := accessorKey{declaring: declaring, member: member}
	c.mu.RLock()
	acc, ok := c.fields[key]
	c.mu.RUnlock()
	if ok {
		return acc, nil
	}

	field, ok := declaring.FieldByName(member)
	if !ok || field.PkgPath != "" {
		return nil, fmt.Errorf("metadata: %s has no gettable member %s", declaring.Name(), member)
	}
	resolved := &FieldAccessor{declaring: declaring, name: member, fieldIndex: field.Index[0]}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.fields[key]; ok {
		return existing, nil
	}
	c.fields[key] = resolved
	return resolved, nil
}

// CollectionAccessor resolves the accessor for a collection navigation
// member. Unsupported shapes are reported here, before any data operation.
func (c *AccessorCache) CollectionAccessor(declaring reflect.Type, member string) (*CollectionAccessor, error) {
	key := accessorKey{declaring: declaring, member: member}
	c.mu.RLock()
	acc, ok := c.collections[key]
	c.mu.RUnlock()
	if ok {
		return acc, nil
	}

	field, ok := declaring.FieldByName(member)
	if !ok || field.PkgPath != "" {
		return nil, fmt.Errorf("metadata: %s has no gettable member %s", declaring.Name(), member)
	}
	switch field.Type.Kind() {
	case reflect.Array:
		return nil, fmt.Errorf("metadata: %s.%s: arrays cannot be bound as collection navigations", declaring.Name(), member)
	case reflect.Slice:
	default:
		return nil, fmt.Errorf("metadata: %s.%s: %s is not a recognized collection shape", declaring.Name(), member, field.Type)
	}
	elem := field.Type.Elem()
	if elem.Kind() != reflect.Ptr || elem.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("metadata: %s.%s: collection elements must be pointers to structs, got %s", declaring.Name(), member, elem)
	}
	resolved := &CollectionAccessor{
		declaring:  declaring,
		name:       member,
		fieldIndex: field.Index[0],
		sliceType:  field.Type,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.collections[key]; ok {
		return existing, nil
	}
	c.collections[key] = resolved
	return resolved, nil
}
