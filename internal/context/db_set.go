package context

import (
	"fmt"
	"reflect"

	"gorm.io/gorm"

	"github.com/vireo-orm/vireo/internal/metadata"
)

// DbSet is the untyped per-entity surface of a context: change-tracker
// staging plus query passthroughs that attach loaded rows to the tracker.
type DbSet struct {
	context    *DbContext
	entityType reflect.Type
}

func NewDbSet(ctx *DbContext, entityType reflect.Type) *DbSet {
	return &DbSet{
		context:    ctx,
		entityType: entityType,
	}
}

func (ds *DbSet) Add(entity interface{}) error {
	return ds.context.Add(entity)
}

func (ds *DbSet) Update(entity interface{}) error {
	return ds.context.Update(entity)
}

func (ds *DbSet) Remove(entity interface{}) error {
	return ds.context.Remove(entity)
}

// Find loads matching rows into dest and attaches them to the tracker.
func (ds *DbSet) Find(dest interface{}, conditions ...interface{}) error {
	if err := ds.context.db.Find(dest, conditions...).Error; err != nil {
		return err
	}
	return ds.trackDest(dest)
}

// First loads the first matching row into dest and attaches it.
func (ds *DbSet) First(dest interface{}, conditions ...interface{}) error {
	if err := ds.context.db.First(dest, conditions...).Error; err != nil {
		return err
	}
	return ds.trackDest(dest)
}

// FirstOrDefault behaves like First but reports a missing row as found=false
// instead of an error.
func (ds *DbSet) FirstOrDefault(dest interface{}, conditions ...interface{}) (bool, error) {
	err := ds.context.db.First(dest, conditions...).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, ds.trackDest(dest)
}

// Single loads the only matching row into dest, erroring when the match is
// missing or ambiguous.
func (ds *DbSet) Single(dest interface{}, conditions ...interface{}) error {
	sliceType := reflect.SliceOf(ds.entityType)
	results := reflect.New(sliceType)

	query := ds.context.db.Model(reflect.New(ds.entityType).Interface())
	if len(conditions) > 0 {
		query = query.Where(conditions[0], conditions[1:]...)
	}
	if err := query.Limit(2).Find(results.Interface()).Error; err != nil {
		return err
	}
	switch results.Elem().Len() {
	case 0:
		return gorm.ErrRecordNotFound
	case 1:
		reflect.ValueOf(dest).Elem().Set(results.Elem().Index(0))
		return ds.trackDest(dest)
	}
	return fmt.Errorf("sequence contains more than one element")
}

func (ds *DbSet) Any(conditions ...interface{}) (bool, error) {
	query := ds.context.db.Model(reflect.New(ds.entityType).Interface())
	if len(conditions) > 0 {
		query = query.Where(conditions[0], conditions[1:]...)
	}
	var count int64
	err := query.Count(&count).Error
	return count > 0, err
}

func (ds *DbSet) Count(count *int64) error {
	return ds.context.db.Model(reflect.New(ds.entityType).Interface()).Count(count).Error
}

func (ds *DbSet) Where(query interface{}, args ...interface{}) *gorm.DB {
	return ds.context.db.Model(reflect.New(ds.entityType).Interface()).Where(query, args...)
}

func (ds *DbSet) Raw(sql string, values ...interface{}) *gorm.DB {
	return ds.context.db.Raw(sql, values...)
}

func (ds *DbSet) GetEntityType() reflect.Type {
	return ds.entityType
}

// EntityModel returns the metadata for the set's entity type.
func (ds *DbSet) EntityModel() (*metadata.EntityType, error) {
	model, err := ds.context.Model()
	if err != nil {
		return nil, err
	}
	entity := model.Entity(ds.entityType)
	if entity == nil {
		return nil, fmt.Errorf("context: type %s is not part of the model", ds.entityType.Name())
	}
	return entity, nil
}

// trackDest attaches the instances a query materialized: a single pointer,
// a slice of pointers, or addressable elements of a value slice.
func (ds *DbSet) trackDest(dest interface{}) error {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("context: query destination must be a pointer, got %T", dest)
	}
	elem := v.Elem()
	if elem.Kind() != reflect.Slice {
		return ds.context.TrackLoaded(dest)
	}
	for i := 0; i < elem.Len(); i++ {
		item := elem.Index(i)
		if item.Kind() == reflect.Ptr {
			if item.IsNil() {
				continue
			}
			if err := ds.context.TrackLoaded(item.Interface()); err != nil {
				return err
			}
			continue
		}
		if err := ds.context.TrackLoaded(item.Addr().Interface()); err != nil {
			return err
		}
	}
	return nil
}
