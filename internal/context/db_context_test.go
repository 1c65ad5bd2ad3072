package context

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vireo-orm/vireo/internal/drivers"
	"github.com/vireo-orm/vireo/internal/tracking"
)

type profile struct {
	Id   int
	Name string
}

// stubDriver reuses the postgres dialect but hands gorm a pre-opened
// sqlmock connection instead of dialing.
type stubDriver struct {
	*drivers.PostgreSQLDriver
	conn *sql.DB
}

func (d *stubDriver) Connect(connectionString string) (*gorm.DB, error) {
	return d.ConnectWithLogger(connectionString, "silent")
}

func (d *stubDriver) ConnectWithLogger(connectionString string, logLevel string) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: d.conn}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
}

func newMockContext(t *testing.T) (*DbContext, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, err := NewDbContext(DbContextOptions{
		ConnectionString: "mock",
		Driver:           &stubDriver{PostgreSQLDriver: drivers.NewPostgreSQLDriver(), conn: conn},
	})
	require.NoError(t, err)
	ctx.RegisterEntity(profile{})
	return ctx, mock
}

func TestSaveChangesInsertReadsGeneratedKey(t *testing.T) {
	ctx, mock := newMockContext(t)

	p := &profile{Name: "Ada"}
	require.NoError(t, ctx.Add(p))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "profiles" ("Name") VALUES ($1) RETURNING "Id";`).
		WithArgs("Ada").
		WillReturnRows(sqlmock.NewRows([]string{"Id"}).AddRow(7))
	mock.ExpectCommit()

	saved, err := ctx.SaveChanges()
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Equal(t, 7, p.Id, "the generated key landed on the entity")

	entry, tracked := ctx.Entry(p)
	require.True(t, tracked)
	assert.Equal(t, tracking.EntityUnchanged, entry.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChangesInsertWithUuidKey(t *testing.T) {
	type apiToken struct {
		Id   uuid.UUID `vireo:"primary_key"`
		Note string
	}
	ctx, mock := newMockContext(t)
	ctx.RegisterEntity(apiToken{})

	id := uuid.New()
	tok := &apiToken{Id: id, Note: "ci"}
	require.NoError(t, ctx.Add(tok))

	// Caller-assigned keys are written, not read back.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "api_tokens" ("Id", "Note") VALUES ($1, $2);`).
		WithArgs(id, "ci").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	saved, err := ctx.SaveChanges()
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	entry, tracked := ctx.Entry(tok)
	require.True(t, tracked)
	assert.Equal(t, tracking.EntityUnchanged, entry.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChangesUpdateDetectedMutation(t *testing.T) {
	ctx, mock := newMockContext(t)

	p := &profile{Id: 1, Name: "a"}
	require.NoError(t, ctx.TrackLoaded(p))

	// No explicit Update call: SaveChanges detects the mutation itself.
	p.Name = "b"

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "profiles" SET "Name" = $1 WHERE "Id" = $2;`).
		WithArgs("b", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	saved, err := ctx.SaveChanges()
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	entry, _ := ctx.Entry(p)
	assert.Equal(t, tracking.EntityUnchanged, entry.State())
	assert.Empty(t, entry.ModifiedProperties())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChangesConcurrencyConflict(t *testing.T) {
	ctx, mock := newMockContext(t)

	p := &profile{Id: 1, Name: "a"}
	require.NoError(t, ctx.TrackLoaded(p))
	p.Name = "b"

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "profiles" SET "Name" = $1 WHERE "Id" = $2;`).
		WithArgs("b", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := ctx.SaveChanges()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	// The failed save leaves the entry pending for a retry.
	entry, _ := ctx.Entry(p)
	assert.Equal(t, tracking.EntityModified, entry.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChangesDeleteDetachesEntry(t *testing.T) {
	ctx, mock := newMockContext(t)

	p := &profile{Id: 1, Name: "a"}
	require.NoError(t, ctx.TrackLoaded(p))
	require.NoError(t, ctx.Remove(p))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "profiles" WHERE "Id" = $1;`).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	saved, err := ctx.SaveChanges()
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	_, tracked := ctx.Entry(p)
	assert.False(t, tracked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChangesNothingPending(t *testing.T) {
	ctx, mock := newMockContext(t)

	p := &profile{Id: 1, Name: "a"}
	require.NoError(t, ctx.TrackLoaded(p))

	saved, err := ctx.SaveChanges()
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasChangesDetectsMutations(t *testing.T) {
	ctx, _ := newMockContext(t)

	p := &profile{Id: 1, Name: "a"}
	require.NoError(t, ctx.TrackLoaded(p))

	changed, err := ctx.HasChanges()
	require.NoError(t, err)
	assert.False(t, changed)

	p.Name = "b"
	changed, err = ctx.HasChanges()
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestVerifySchemaChecksMappedColumns(t *testing.T) {
	ctx, mock := newMockContext(t)
	schemaQuery := drivers.NewPostgreSQLDriver().GetSchemaInformationQuery()
	schemaColumns := []string{"name", "data_type", "is_nullable", "is_primary", "default_value", "max_length"}

	mock.ExpectQuery(schemaQuery).
		WithArgs("profiles").
		WillReturnRows(sqlmock.NewRows(schemaColumns).
			AddRow("Id", "integer", false, true, nil, nil).
			AddRow("Name", "text", true, false, nil, nil))
	require.NoError(t, ctx.VerifySchema())

	// A mapped column absent from the table is reported.
	mock.ExpectQuery(schemaQuery).
		WithArgs("profiles").
		WillReturnRows(sqlmock.NewRows(schemaColumns).
			AddRow("Id", "integer", false, true, nil, nil))
	err := ctx.VerifySchema()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterEntityAfterModelBuildPanics(t *testing.T) {
	ctx, _ := newMockContext(t)
	_, err := ctx.Model()
	require.NoError(t, err)

	type late struct{ Id int }
	assert.Panics(t, func() { ctx.RegisterEntity(late{}) })
}

func TestNewDbContextRequiresDriver(t *testing.T) {
	_, err := NewDbContext(DbContextOptions{ConnectionString: "x"})
	assert.Error(t, err)
}
