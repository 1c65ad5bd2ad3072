package context

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/vireo-orm/vireo/internal/drivers"
	"github.com/vireo-orm/vireo/internal/metadata"
	"github.com/vireo-orm/vireo/internal/tracking"
	"github.com/vireo-orm/vireo/internal/update"
)

// ErrConcurrencyConflict reports that a save statement affected a row count
// other than the expected one, meaning the row was changed or removed by a
// competing writer since it was loaded.
var ErrConcurrencyConflict = errors.New("vireo: affected row count did not match the expected count")

// DbContext is one unit of work: a connection, the entity model, the change
// tracker and the save pipeline that turns detected changes into DML.
type DbContext struct {
	db     *gorm.DB
	driver drivers.DatabaseDriver

	accessors *metadata.AccessorCache
	builder   *metadata.Builder
	dbSets    map[reflect.Type]*DbSet

	mu           sync.RWMutex
	model        *metadata.Model
	stateManager *tracking.StateManager
	detector     *tracking.ChangeDetector
}

type DbContextOptions struct {
	ConnectionString string
	Driver           drivers.DatabaseDriver
	LogLevel         string
}

func NewDbContext(options DbContextOptions) (*DbContext, error) {
	if options.Driver == nil {
		return nil, errors.New("context: a database driver is required")
	}
	db, err := options.Driver.ConnectWithLogger(options.ConnectionString, options.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	accessors := metadata.NewAccessorCache()
	return &DbContext{
		db:        db,
		driver:    options.Driver,
		accessors: accessors,
		builder:   metadata.NewBuilder(accessors),
		dbSets:    make(map[reflect.Type]*DbSet),
	}, nil
}

// RegisterEntity adds an entity type to the model under construction and
// returns its set. All registrations must happen before the model is first
// used; registering afterwards is a contract violation.
func (ctx *DbContext) RegisterEntity(entity interface{}) *DbSet {
	entityType := reflect.TypeOf(entity)
	if entityType.Kind() == reflect.Ptr {
		entityType = entityType.Elem()
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if existing, ok := ctx.dbSets[entityType]; ok {
		return existing
	}
	if ctx.model != nil {
		panic(fmt.Sprintf("context: cannot register %s after the model has been built", entityType.Name()))
	}

	ctx.builder.AddEntity(entity)
	dbSet := NewDbSet(ctx, entityType)
	ctx.dbSets[entityType] = dbSet
	return dbSet
}

// RegisterShadowProperty declares a mapped column with no backing struct
// field on an already registered entity type.
func (ctx *DbContext) RegisterShadowProperty(entity interface{}, name string, goType reflect.Type) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.model != nil {
		panic("context: cannot add shadow properties after the model has been built")
	}
	ctx.builder.AddShadowProperty(entity, name, goType)
}

// Model builds the entity model on first use and returns it.
func (ctx *DbContext) Model() (*metadata.Model, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.modelLocked()
}

func (ctx *DbContext) modelLocked() (*metadata.Model, error) {
	if ctx.model != nil {
		return ctx.model, nil
	}
	model, err := ctx.builder.Build()
	if err != nil {
		return nil, fmt.Errorf("building entity model: %w", err)
	}
	ctx.model = model
	ctx.stateManager = tracking.NewStateManager(model, ctx.accessors)
	ctx.detector = tracking.NewChangeDetector(model, ctx.stateManager.Notifier())
	return ctx.model, nil
}

func (ctx *DbContext) tracker() (*tracking.StateManager, *tracking.ChangeDetector, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if _, err := ctx.modelLocked(); err != nil {
		return nil, nil, err
	}
	return ctx.stateManager, ctx.detector, nil
}

func (ctx *DbContext) GetDbSet(entityType reflect.Type) *DbSet {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.dbSets[entityType]
}

// Add starts tracking the instance as pending insertion.
func (ctx *DbContext) Add(entity interface{}) error {
	sm, _, err := ctx.tracker()
	if err != nil {
		return err
	}
	_, err = sm.StartTracking(entity, tracking.EntityAdded)
	return err
}

// Update starts tracking the instance as modified with every writable
// non-key property marked, matching attach-then-overwrite semantics.
func (ctx *DbContext) Update(entity interface{}) error {
	sm, _, err := ctx.tracker()
	if err != nil {
		return err
	}
	entry, err := sm.StartTracking(entity, tracking.EntityModified)
	if err != nil {
		return err
	}
	for _, p := range entry.EntityType.Properties() {
		if !p.IsPrimaryKey() && !p.ReadOnly {
			entry.MarkModified(p)
		}
	}
	return nil
}

// Remove starts tracking the instance as pending deletion.
func (ctx *DbContext) Remove(entity interface{}) error {
	sm, _, err := ctx.tracker()
	if err != nil {
		return err
	}
	_, err = sm.StartTracking(entity, tracking.EntityDeleted)
	return err
}

// TrackLoaded attaches a freshly materialized instance as unchanged so later
// detection can diff against it. Already tracked instances keep their state.
func (ctx *DbContext) TrackLoaded(entity interface{}) error {
	sm, _, err := ctx.tracker()
	if err != nil {
		return err
	}
	if _, tracked := sm.TryGetEntry(entity); tracked {
		return nil
	}
	_, err = sm.StartTracking(entity, tracking.EntityUnchanged)
	return err
}

// Entry returns the tracking entry for an instance, if tracked.
func (ctx *DbContext) Entry(entity interface{}) (*tracking.Entry, bool) {
	sm, _, err := ctx.tracker()
	if err != nil {
		return nil, false
	}
	return sm.TryGetEntry(entity)
}

// DetectChanges runs a full detection sweep and reports whether any change
// was newly found.
func (ctx *DbContext) DetectChanges() (bool, error) {
	sm, detector, err := ctx.tracker()
	if err != nil {
		return false, err
	}
	return detector.DetectAll(sm), nil
}

// HasChanges reports whether a save would do any work, detecting first.
func (ctx *DbContext) HasChanges() (bool, error) {
	sm, detector, err := ctx.tracker()
	if err != nil {
		return false, err
	}
	detector.DetectAll(sm)
	return sm.HasChanges(), nil
}

// ChangeTracker exposes the state manager, building the model if needed.
func (ctx *DbContext) ChangeTracker() (*tracking.StateManager, error) {
	sm, _, err := ctx.tracker()
	return sm, err
}

// SaveChanges detects pending changes, renders one DML command per changed
// entry and executes the batch in a transaction. Database-generated values
// are read back onto the entities, affected row counts are verified, and on
// success every entry re-baselines. Returns the number of entries written.
func (ctx *DbContext) SaveChanges() (int, error) {
	sm, detector, err := ctx.tracker()
	if err != nil {
		return 0, err
	}
	detector.DetectAll(sm)
	entries := sm.ChangedEntries()
	if len(entries) == 0 {
		return 0, nil
	}

	saved := 0
	err = ctx.db.Transaction(func(tx *gorm.DB) error {
		builder := update.NewCommandBuilder()
		generator := update.NewDMLGenerator(ctx.driver.Dialect())
		for _, entry := range entries {
			if entry.State() == tracking.EntityModified && len(entry.ModifiedProperties()) == 0 {
				continue
			}
			if err := ctx.executeEntry(tx, generator, builder, entry); err != nil {
				return err
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	sm.AcceptAllChanges()
	return saved, nil
}

func (ctx *DbContext) executeEntry(tx *gorm.DB, generator *update.DMLGenerator, builder *update.CommandBuilder, entry *tracking.Entry) error {
	cmd := builder.BuildCommand(entry)
	generator.Reset()
	var sb strings.Builder
	switch entry.State() {
	case tracking.EntityAdded:
		generator.AppendInsertOperation(&sb, cmd)
	case tracking.EntityModified:
		generator.AppendUpdateOperation(&sb, cmd)
	case tracking.EntityDeleted:
		generator.AppendDeleteOperation(&sb, cmd)
	}
	stmt := strings.TrimRight(sb.String(), "\n")
	args := ctx.driver.BindParameters(cmd.Parameters())
	reads := cmd.ReadColumns()

	if len(reads) > 0 && entry.State() == tracking.EntityAdded && generator.Dialect().SupportsReturning() {
		row := tx.Raw(stmt, args...).Row()
		return scanReadColumns(row, reads)
	}

	result := tx.Exec(stmt, args...)
	if result.Error != nil {
		return fmt.Errorf("executing %s for %s: %w", entry.State(), entry.EntityType.Name, result.Error)
	}
	if entry.State() != tracking.EntityAdded && result.RowsAffected != 1 {
		return fmt.Errorf("%w: %s on %s affected %d rows, expected 1",
			ErrConcurrencyConflict, entry.State(), cmd.TableName, result.RowsAffected)
	}
	if len(reads) > 0 {
		generator.Reset()
		var rb strings.Builder
		generator.AppendSelectAffectedCommand(&rb, cmd)
		readSQL := strings.TrimRight(rb.String(), "\n")
		readArgs := ctx.driver.BindParameters(readbackParameters(cmd))
		row := tx.Raw(readSQL, readArgs...).Row()
		return scanReadColumns(row, reads)
	}
	return nil
}

// readbackParameters returns the key parameters the read-back query binds:
// generated keys compare against the identity expression and bind nothing.
func readbackParameters(cmd *update.ModificationCommand) []update.Parameter {
	var params []update.Parameter
	for _, cm := range cmd.KeyColumns() {
		if cm.IsRead {
			continue
		}
		if cm.ParameterName != "" {
			params = append(params, update.Parameter{Name: cm.ParameterName, Value: cm.Value()})
		} else if cm.OriginalParameterName != "" {
			params = append(params, update.Parameter{Name: cm.OriginalParameterName, Value: cm.OriginalValue()})
		}
	}
	return params
}

func scanReadColumns(row *sql.Row, reads []*update.ColumnModification) error {
	dests := make([]interface{}, len(reads))
	for i, cm := range reads {
		dests[i] = reflect.New(cm.Property.GoType).Interface()
	}
	if err := row.Scan(dests...); err != nil {
		return fmt.Errorf("reading generated values: %w", err)
	}
	for i, cm := range reads {
		cm.SetValue(reflect.ValueOf(dests[i]).Elem().Interface())
	}
	return nil
}

func (ctx *DbContext) BeginTransaction() *gorm.DB {
	return ctx.db.Begin()
}

func (ctx *DbContext) GetDB() *gorm.DB {
	return ctx.db
}

func (ctx *DbContext) GetDriver() drivers.DatabaseDriver {
	return ctx.driver
}

func (ctx *DbContext) Close() error {
	sqlDB, err := ctx.driver.GetSQLDB(ctx.db)
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureCreated migrates every mapped entity and then checks the resulting
// tables carry every mapped column.
func (ctx *DbContext) EnsureCreated() error {
	model, err := ctx.Model()
	if err != nil {
		return err
	}
	for _, entity := range model.Entities() {
		if err := ctx.db.AutoMigrate(reflect.New(entity.GoType).Interface()); err != nil {
			log.Printf("Warning: AutoMigrate failed for %s: %v", entity.Name, err)
		}
	}
	return ctx.VerifySchema()
}

// VerifySchema compares each mapped entity against the live table using the
// driver's schema information query and reports the first mapped column the
// table is missing.
func (ctx *DbContext) VerifySchema() error {
	model, err := ctx.Model()
	if err != nil {
		return err
	}
	schemaQuery := ctx.driver.GetSchemaInformationQuery()
	for _, entity := range model.Entities() {
		columns, err := ctx.tableColumns(schemaQuery, entity.TableName)
		if err != nil {
			return fmt.Errorf("reading schema for %s: %w", entity.TableName, err)
		}
		for _, p := range entity.Properties() {
			if _, ok := columns[strings.ToLower(p.ColumnName)]; !ok {
				return fmt.Errorf("table %s is missing mapped column %s", entity.TableName, p.ColumnName)
			}
		}
	}
	return nil
}

func (ctx *DbContext) tableColumns(schemaQuery string, tableName string) (map[string]drivers.ColumnInfo, error) {
	rows, err := ctx.db.Raw(schemaQuery, tableName).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]drivers.ColumnInfo)
	for rows.Next() {
		var ci drivers.ColumnInfo
		if err := rows.Scan(&ci.Name, &ci.DataType, &ci.IsNullable, &ci.IsPrimary, &ci.DefaultValue, &ci.MaxLength); err != nil {
			return nil, err
		}
		columns[strings.ToLower(ci.Name)] = ci
	}
	return columns, rows.Err()
}
