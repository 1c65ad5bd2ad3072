package vireo

import (
	"fmt"
	"reflect"

	"github.com/vireo-orm/vireo/internal/context"
	"github.com/vireo-orm/vireo/internal/drivers"
	"github.com/vireo-orm/vireo/internal/tracking"
)

type DbContext = context.DbContext
type DbSet = context.DbSet

type DbContextOptions = context.DbContextOptions

// EntityState mirrors the tracker's lifecycle states at the public surface.
type EntityState = tracking.EntityState

const (
	EntityUnchanged = tracking.EntityUnchanged
	EntityAdded     = tracking.EntityAdded
	EntityModified  = tracking.EntityModified
	EntityDeleted   = tracking.EntityDeleted
)

// ErrConcurrencyConflict is returned by SaveChanges when a statement's
// affected row count did not match the expected one.
var ErrConcurrencyConflict = context.ErrConcurrencyConflict

func NewDbContext(connectionString string, driverType string) (*DbContext, error) {
	return NewDbContextWithLogger(connectionString, driverType, "silent")
}

func NewDbContextWithLogger(connectionString string, driverType string, logLevel string) (*DbContext, error) {
	var driver drivers.DatabaseDriver

	switch driverType {
	case "postgres", "postgresql":
		driver = drivers.NewPostgreSQLDriver()
	case "mysql":
		driver = drivers.NewMySQLDriver()
	case "sqlite", "sqlite3":
		driver = drivers.NewSQLiteDriver()
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverType)
	}

	options := DbContextOptions{
		ConnectionString: connectionString,
		Driver:           driver,
		LogLevel:         logLevel,
	}

	return context.NewDbContext(options)
}

// NewDbSet registers T on the context and returns its untyped set.
func NewDbSet[T any](ctx *DbContext) *DbSet {
	var zero T
	return ctx.RegisterEntity(zero)
}

type Tabler interface {
	TableName() string
}

// RegisterEntity registers T on the context and returns its typed set.
func RegisterEntity[T any](ctx *DbContext) *TypedDbSet[T] {
	var zero T
	ctx.RegisterEntity(zero)
	return NewTypedDbSet[T](ctx)
}

func GetEntityType[T any]() reflect.Type {
	var zero T
	return reflect.TypeOf(zero)
}
