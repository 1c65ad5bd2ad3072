package update

import (
	"strings"
)

// Dialect is the override surface for provider-specific SQL rendering. The
// generic generator delimits identifiers with double quotes, escapes string
// literals with doubled single quotes and binds named parameters; providers
// replace only what differs.
type Dialect interface {
	// DelimitIdentifier quotes an identifier, doubling embedded delimiters.
	DelimitIdentifier(name string) string
	// EscapeLiteral renders a string literal, doubling embedded quotes.
	EscapeLiteral(value string) string
	// Placeholder renders the bind marker for a named parameter. Positional
	// dialects use the zero-based ordinal instead of the name.
	Placeholder(name string, ordinal int) string
	// RowsAffectedExpression is the provider's rows-affected function, used
	// in read-back guards and verification queries.
	RowsAffectedExpression() string
	// IdentityExpression is the provider's last-generated-key expression.
	IdentityExpression() string
	// StatementTerminator separates statements in a batch.
	StatementTerminator() string
	// OffsetWithoutLimitClause is the LIMIT clause emitted when a query
	// pages with an offset but no limit. Providers whose grammar accepts a
	// bare OFFSET return the empty string.
	OffsetWithoutLimitClause() string
	// SupportsReturning reports whether inserts can read generated values
	// back inline instead of via a follow-up query.
	SupportsReturning() bool
}

// AnsiDialect carries the generic defaults.
type AnsiDialect struct{}

func (AnsiDialect) DelimitIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (AnsiDialect) EscapeLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func (AnsiDialect) Placeholder(name string, ordinal int) string {
	return "@" + name
}

func (AnsiDialect) RowsAffectedExpression() string { return "changes()" }

func (AnsiDialect) IdentityExpression() string { return "last_insert_rowid()" }

func (AnsiDialect) StatementTerminator() string { return ";" }

func (AnsiDialect) OffsetWithoutLimitClause() string { return "LIMIT -1" }

func (AnsiDialect) SupportsReturning() bool { return false }

// DMLGenerator renders INSERT/UPDATE/DELETE statements plus affected-row
// verification SQL from modification commands into a shared buffer.
type DMLGenerator struct {
	dialect Dialect
	ordinal int
}

func NewDMLGenerator(dialect Dialect) *DMLGenerator {
	if dialect == nil {
		dialect = AnsiDialect{}
	}
	return &DMLGenerator{dialect: dialect}
}

func (g *DMLGenerator) Dialect() Dialect { return g.dialect }

// Reset restarts positional ordinal counting for a new batch.
func (g *DMLGenerator) Reset() { g.ordinal = 0 }

// AppendInsert appends the INSERT for the command, followed by either a
// read-back query for database-generated columns or a row-count
// verification query.
func (g *DMLGenerator) AppendInsert(sb *strings.Builder, cmd *ModificationCommand) {
	g.mustArgs(sb, cmd)
	reads := cmd.ReadColumns()
	g.AppendInsertOperation(sb, cmd)
	if len(reads) > 0 && !g.dialect.SupportsReturning() {
		g.AppendSelectAffectedCommand(sb, cmd)
	} else if len(reads) == 0 {
		g.AppendRowCountCheck(sb)
	}
}

// AppendInsertOperation appends only the INSERT statement. Dialects with
// RETURNING fold the read columns into it.
func (g *DMLGenerator) AppendInsertOperation(sb *strings.Builder, cmd *ModificationCommand) {
	g.mustArgs(sb, cmd)
	writes := cmd.WriteColumns()
	sb.WriteString("INSERT INTO ")
	g.appendTarget(sb, cmd)
	if len(writes) == 0 {
		sb.WriteString(" DEFAULT VALUES")
	} else {
		sb.WriteString(" (")
		for i, cm := range writes {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(g.dialect.DelimitIdentifier(cm.ColumnName))
		}
		sb.WriteString(") VALUES (")
		for i, cm := range writes {
			if i > 0 {
				sb.WriteString(", ")
			}
			g.appendPlaceholder(sb, cm.ParameterName)
		}
		sb.WriteString(")")
	}
	if reads := cmd.ReadColumns(); len(reads) > 0 && g.dialect.SupportsReturning() {
		sb.WriteString(" RETURNING ")
		for i, cm := range reads {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(g.dialect.DelimitIdentifier(cm.ColumnName))
		}
	}
	g.terminate(sb)
}

// AppendUpdate appends the UPDATE with its optimistic-concurrency WHERE
// clause over original values, then the read-back or verification query.
func (g *DMLGenerator) AppendUpdate(sb *strings.Builder, cmd *ModificationCommand) {
	g.mustArgs(sb, cmd)
	g.AppendUpdateOperation(sb, cmd)
	if reads := cmd.ReadColumns(); len(reads) > 0 {
		g.AppendSelectAffectedCommand(sb, cmd)
	} else {
		g.AppendRowCountCheck(sb)
	}
}

// AppendUpdateOperation appends only the UPDATE statement.
func (g *DMLGenerator) AppendUpdateOperation(sb *strings.Builder, cmd *ModificationCommand) {
	g.mustArgs(sb, cmd)
	writes := cmd.WriteColumns()
	if len(writes) == 0 {
		panic("update: UPDATE requires at least one write column")
	}
	sb.WriteString("UPDATE ")
	g.appendTarget(sb, cmd)
	sb.WriteString(" SET ")
	for i, cm := range writes {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(g.dialect.DelimitIdentifier(cm.ColumnName))
		sb.WriteString(" = ")
		g.appendPlaceholder(sb, cm.ParameterName)
	}
	g.appendConditionClause(sb, cmd)
	g.terminate(sb)
}

// AppendDelete appends the DELETE plus a row-count verification query.
func (g *DMLGenerator) AppendDelete(sb *strings.Builder, cmd *ModificationCommand) {
	g.mustArgs(sb, cmd)
	g.AppendDeleteOperation(sb, cmd)
	g.AppendRowCountCheck(sb)
}

// AppendDeleteOperation appends only the DELETE statement.
func (g *DMLGenerator) AppendDeleteOperation(sb *strings.Builder, cmd *ModificationCommand) {
	g.mustArgs(sb, cmd)
	sb.WriteString("DELETE FROM ")
	g.appendTarget(sb, cmd)
	g.appendConditionClause(sb, cmd)
	g.terminate(sb)
}

// AppendSelectAffectedCommand appends the read-back query for
// database-generated columns: the projected read columns guarded by the
// rows-affected check ANDed with key-column identity conditions. Keys that
// are themselves database-generated compare against the dialect's
// last-identity expression rather than a bound parameter.
func (g *DMLGenerator) AppendSelectAffectedCommand(sb *strings.Builder, cmd *ModificationCommand) {
	g.mustArgs(sb, cmd)
	reads := cmd.ReadColumns()
	if len(reads) == 0 {
		panic("update: read-back query requires at least one read column")
	}
	sb.WriteString("SELECT ")
	for i, cm := range reads {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(g.dialect.DelimitIdentifier(cm.ColumnName))
	}
	sb.WriteString(" FROM ")
	g.appendTarget(sb, cmd)
	sb.WriteString(" WHERE ")
	sb.WriteString(g.dialect.RowsAffectedExpression())
	sb.WriteString(" = 1")
	for _, cm := range cmd.KeyColumns() {
		sb.WriteString(" AND ")
		sb.WriteString(g.dialect.DelimitIdentifier(cm.ColumnName))
		sb.WriteString(" = ")
		if cm.IsRead {
			sb.WriteString(g.dialect.IdentityExpression())
		} else if cm.ParameterName != "" {
			g.appendPlaceholder(sb, cm.ParameterName)
		} else {
			g.appendPlaceholder(sb, cm.OriginalParameterName)
		}
	}
	g.terminate(sb)
}

// AppendRowCountCheck appends the verification query whose single scalar
// result is compared against the expected row count by the save layer.
func (g *DMLGenerator) AppendRowCountCheck(sb *strings.Builder) {
	if sb == nil {
		panic("update: buffer must not be nil")
	}
	sb.WriteString("SELECT ")
	sb.WriteString(g.dialect.RowsAffectedExpression())
	g.terminate(sb)
}

func (g *DMLGenerator) appendConditionClause(sb *strings.Builder, cmd *ModificationCommand) {
	conditions := cmd.ConditionColumns()
	if len(conditions) == 0 {
		panic("update: WHERE clause requires at least one condition column")
	}
	sb.WriteString(" WHERE ")
	for i, cm := range conditions {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(g.dialect.DelimitIdentifier(cm.ColumnName))
		sb.WriteString(" = ")
		g.appendPlaceholder(sb, cm.OriginalParameterName)
	}
}

func (g *DMLGenerator) appendTarget(sb *strings.Builder, cmd *ModificationCommand) {
	if cmd.Schema != "" {
		sb.WriteString(g.dialect.DelimitIdentifier(cmd.Schema))
		sb.WriteString(".")
	}
	sb.WriteString(g.dialect.DelimitIdentifier(cmd.TableName))
}

func (g *DMLGenerator) appendPlaceholder(sb *strings.Builder, name string) {
	sb.WriteString(g.dialect.Placeholder(name, g.ordinal))
	g.ordinal++
}

func (g *DMLGenerator) terminate(sb *strings.Builder) {
	sb.WriteString(g.dialect.StatementTerminator())
	sb.WriteString("\n")
}

func (g *DMLGenerator) mustArgs(sb *strings.Builder, cmd *ModificationCommand) {
	if sb == nil {
		panic("update: buffer must not be nil")
	}
	if cmd == nil {
		panic("update: command must not be nil")
	}
	if cmd.TableName == "" {
		panic("update: command table name must not be empty")
	}
}
