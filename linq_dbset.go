package vireo

import (
	"fmt"
	"reflect"
)

// TypedDbSet wraps a registered entity type with a generic surface: staging
// operations take *T and queries come back as []T.
type TypedDbSet[T any] struct {
	ctx *DbContext
}

func NewTypedDbSet[T any](ctx *DbContext) *TypedDbSet[T] {
	return &TypedDbSet[T]{ctx: ctx}
}

func (ds *TypedDbSet[T]) Add(entity *T) error {
	return ds.ctx.Add(entity)
}

func (ds *TypedDbSet[T]) Update(entity *T) error {
	return ds.ctx.Update(entity)
}

func (ds *TypedDbSet[T]) Remove(entity *T) error {
	return ds.ctx.Remove(entity)
}

// Attach tracks an externally loaded instance as unchanged.
func (ds *TypedDbSet[T]) Attach(entity *T) error {
	return ds.ctx.TrackLoaded(entity)
}

// Query starts a fresh query over the set.
func (ds *TypedDbSet[T]) Query() *Query[T] {
	return NewQuery[T](ds.ctx)
}

func (ds *TypedDbSet[T]) Where(field string, op string, value interface{}) *Query[T] {
	return ds.Query().Where(field, op, value)
}

func (ds *TypedDbSet[T]) OrderBy(field string) *Query[T] {
	return ds.Query().OrderBy(field)
}

func (ds *TypedDbSet[T]) ToList() ([]T, error) {
	return ds.Query().ToList()
}

func (ds *TypedDbSet[T]) Count() (int64, error) {
	return ds.Query().Count()
}

func (ds *TypedDbSet[T]) Any() (bool, error) {
	return ds.Query().Any()
}

// ById loads the row with the given primary key, or nil when absent.
func (ds *TypedDbSet[T]) ById(id interface{}) (*T, error) {
	q := ds.Query()
	if q.err != nil {
		return nil, q.err
	}
	pk := q.entity.PrimaryKey()
	if len(pk) != 1 {
		return nil, fmt.Errorf("vireo: ById requires a single-property key, %s has %d", q.entity.Name, len(pk))
	}
	return q.WhereEquals(pk[0].Name, id).FirstOrDefault()
}

// EntityType reports the reflected struct type of T.
func (ds *TypedDbSet[T]) EntityType() reflect.Type {
	var zero T
	t := reflect.TypeOf(zero)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
