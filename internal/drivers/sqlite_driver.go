package drivers

import (
	"database/sql"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vireo-orm/vireo/internal/update"
)

// SQLiteDriver is the generic-dialect provider: named parameters,
// changes() verification and last_insert_rowid() read-backs.
type SQLiteDriver struct{}

func NewSQLiteDriver() *SQLiteDriver {
	return &SQLiteDriver{}
}

func (s *SQLiteDriver) Name() string {
	return "sqlite"
}

func (s *SQLiteDriver) Connect(connectionString string) (*gorm.DB, error) {
	return s.ConnectWithLogger(connectionString, "silent")
}

func (s *SQLiteDriver) ConnectWithLogger(connectionString string, logLevel string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(connectionString), &gorm.Config{
		Logger: buildLogger(logLevel),
	})
}

func (s *SQLiteDriver) GetSQLDB(db *gorm.DB) (*sql.DB, error) {
	return db.DB()
}

func (s *SQLiteDriver) SupportsTransactions() bool {
	return true
}

func (s *SQLiteDriver) Dialect() update.Dialect {
	return update.AnsiDialect{}
}

func (s *SQLiteDriver) BindParameters(params []update.Parameter) []interface{} {
	return namedArgs(params)
}

func (s *SQLiteDriver) MapGoTypeToSQL(goType string) string {
	switch {
	case strings.Contains(goType, "uuid.UUID"):
		return "TEXT"
	case strings.Contains(goType, "time.Time"):
		return "DATETIME"
	case goType == "string":
		return "TEXT"
	case goType == "int", goType == "int32", goType == "int64":
		return "INTEGER"
	case goType == "bool":
		return "BOOLEAN"
	case goType == "float64":
		return "REAL"
	case strings.Contains(goType, "json.RawMessage"):
		return "TEXT"
	default:
		return "TEXT"
	}
}

func (s *SQLiteDriver) GetSchemaInformationQuery() string {
	return `
		SELECT
			name,
			type as data_type,
			"notnull" = 0 as is_nullable,
			pk > 0 as is_primary,
			dflt_value as default_value,
			NULL as max_length
		FROM pragma_table_info(?)`
}
