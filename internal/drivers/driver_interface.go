package drivers

import (
	"database/sql"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vireo-orm/vireo/internal/update"
)

// DatabaseDriver pairs a gorm dialector for connections with the SQL
// dialect the generators render against.
type DatabaseDriver interface {
	Name() string
	Connect(connectionString string) (*gorm.DB, error)
	ConnectWithLogger(connectionString string, logLevel string) (*gorm.DB, error)
	GetSQLDB(db *gorm.DB) (*sql.DB, error)
	MapGoTypeToSQL(goType string) string
	SupportsTransactions() bool
	GetSchemaInformationQuery() string

	// Dialect returns the provider's SQL rendering overrides.
	Dialect() update.Dialect
	// BindParameters converts rendered name/value pairs into driver
	// arguments: sql.Named values for named-placeholder providers,
	// positional values in rendering order otherwise.
	BindParameters(params []update.Parameter) []interface{}
}

type ColumnInfo struct {
	Name         string
	DataType     string
	IsNullable   bool
	IsPrimary    bool
	DefaultValue *string
	MaxLength    *int
}

func buildLogger(logLevel string) logger.Interface {
	config := logger.Config{
		SlowThreshold:             time.Second,
		IgnoreRecordNotFoundError: true,
		Colorful:                  true,
	}
	switch logLevel {
	case "info":
		config.LogLevel = logger.Info
	case "warn":
		config.LogLevel = logger.Warn
	case "error":
		config.LogLevel = logger.Error
	default:
		return logger.Default.LogMode(logger.Silent)
	}
	return logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), config)
}

func namedArgs(params []update.Parameter) []interface{} {
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = sql.Named(p.Name, p.Value)
	}
	return args
}

func positionalArgs(params []update.Parameter) []interface{} {
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p.Value
	}
	return args
}
