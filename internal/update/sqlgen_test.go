package update

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireo-orm/vireo/internal/metadata"
	"github.com/vireo-orm/vireo/internal/tracking"
)

type returningDialect struct {
	AnsiDialect
}

func (returningDialect) Placeholder(name string, ordinal int) string {
	return fmt.Sprintf("$%d", ordinal+1)
}

func (returningDialect) SupportsReturning() bool { return true }

func TestAnsiDialectEscaping(t *testing.T) {
	d := AnsiDialect{}
	assert.Equal(t, `"He said ""hi"""`, d.DelimitIdentifier(`He said "hi"`))
	assert.Equal(t, `'O''Brien'`, d.EscapeLiteral("O'Brien"))
	assert.Equal(t, "@p0", d.Placeholder("p0", 3))
	assert.Equal(t, "changes()", d.RowsAffectedExpression())
	assert.Equal(t, "last_insert_rowid()", d.IdentityExpression())
	assert.False(t, d.SupportsReturning())
}

func TestAppendInsertWithGeneratedKey(t *testing.T) {
	f := newUpdateFixture(t)
	entry := f.entry(t, &account{Name: "ada", Balance: 10}, tracking.EntityAdded)
	cmd := NewCommandBuilder().BuildInsert(entry)

	var sb strings.Builder
	NewDMLGenerator(nil).AppendInsert(&sb, cmd)

	assert.Equal(t,
		"INSERT INTO \"accounts\" (\"Name\", \"Balance\", \"Version\") VALUES (@p0, @p1, @p2);\n"+
			"SELECT \"Id\" FROM \"accounts\" WHERE changes() = 1 AND \"Id\" = last_insert_rowid();\n",
		sb.String())
}

func TestAppendInsertWithPresetKeyVerifiesRowCount(t *testing.T) {
	f := newUpdateFixture(t)
	entry := f.entry(t, &account{Id: 7, Name: "ada"}, tracking.EntityAdded)
	cmd := NewCommandBuilder().BuildInsert(entry)

	var sb strings.Builder
	NewDMLGenerator(nil).AppendInsert(&sb, cmd)

	assert.Equal(t,
		"INSERT INTO \"accounts\" (\"Id\", \"Name\", \"Balance\", \"Version\") VALUES (@p0, @p1, @p2, @p3);\n"+
			"SELECT changes();\n",
		sb.String())
}

func TestAppendInsertDefaultValues(t *testing.T) {
	type marker struct {
		Id int
	}
	cache := metadata.NewAccessorCache()
	builder := metadata.NewBuilder(cache)
	builder.AddEntity(marker{})
	model, err := builder.Build()
	require.NoError(t, err)

	entry := tracking.NewEntry(model.EntityFor(&marker{}), &marker{}, cache, tracking.EntityAdded)
	cmd := NewCommandBuilder().BuildInsert(entry)

	var sb strings.Builder
	NewDMLGenerator(nil).AppendInsertOperation(&sb, cmd)
	assert.Equal(t, "INSERT INTO \"markers\" DEFAULT VALUES;\n", sb.String())
}

func TestAppendInsertWithReturningDialect(t *testing.T) {
	f := newUpdateFixture(t)
	entry := f.entry(t, &account{Name: "ada"}, tracking.EntityAdded)
	cmd := NewCommandBuilder().BuildInsert(entry)

	var sb strings.Builder
	NewDMLGenerator(returningDialect{}).AppendInsert(&sb, cmd)

	assert.Equal(t,
		"INSERT INTO \"accounts\" (\"Name\", \"Balance\", \"Version\") VALUES ($1, $2, $3) RETURNING \"Id\";\n",
		sb.String(), "RETURNING folds the read back inline, no follow-up query")
}

func TestAppendUpdateConditionsOnOriginals(t *testing.T) {
	f := newUpdateFixture(t)
	a := &account{Id: 1, Name: "ada", Version: 3}
	entry := f.entry(t, a, tracking.EntityUnchanged)
	entry.EnsureOriginal()
	a.Name = "grace"
	entry.MarkModified(entry.EntityType.Property("Name"))
	entry.SetState(tracking.EntityModified)
	cmd := NewCommandBuilder().BuildUpdate(entry)

	var sb strings.Builder
	NewDMLGenerator(nil).AppendUpdate(&sb, cmd)

	assert.Equal(t,
		"UPDATE \"accounts\" SET \"Name\" = @p0 WHERE \"Id\" = @o0 AND \"Version\" = @o1;\n"+
			"SELECT changes();\n",
		sb.String())
}

func TestAppendDelete(t *testing.T) {
	f := newUpdateFixture(t)
	entry := f.entry(t, &account{Id: 1, Version: 5}, tracking.EntityDeleted)
	entry.EnsureOriginal()
	cmd := NewCommandBuilder().BuildDelete(entry)

	var sb strings.Builder
	NewDMLGenerator(nil).AppendDelete(&sb, cmd)

	assert.Equal(t,
		"DELETE FROM \"accounts\" WHERE \"Id\" = @o0 AND \"Version\" = @o1;\n"+
			"SELECT changes();\n",
		sb.String())
}

func TestPositionalOrdinalsContinueWithinBatch(t *testing.T) {
	f := newUpdateFixture(t)
	b := NewCommandBuilder()
	g := NewDMLGenerator(returningDialect{})

	var sb strings.Builder
	g.AppendInsert(&sb, b.BuildInsert(f.entry(t, &account{Name: "a"}, tracking.EntityAdded)))
	g.AppendInsert(&sb, b.BuildInsert(f.entry(t, &account{Name: "b"}, tracking.EntityAdded)))

	assert.Contains(t, sb.String(), "VALUES ($1, $2, $3)")
	assert.Contains(t, sb.String(), "VALUES ($4, $5, $6)")

	g.Reset()
	var again strings.Builder
	g.AppendInsert(&again, b.BuildInsert(f.entry(t, &account{Name: "c"}, tracking.EntityAdded)))
	assert.Contains(t, again.String(), "VALUES ($1, $2, $3)")
}

func TestGeneratorContractViolations(t *testing.T) {
	f := newUpdateFixture(t)
	g := NewDMLGenerator(nil)
	entry := f.entry(t, &account{Id: 1}, tracking.EntityModified)
	entry.EnsureOriginal()
	cmd := NewCommandBuilder().BuildUpdate(entry)

	var sb strings.Builder
	assert.Panics(t, func() { g.AppendUpdateOperation(&sb, cmd) }, "UPDATE without writes")
	assert.Panics(t, func() { g.AppendInsert(nil, cmd) })
	assert.Panics(t, func() { g.AppendInsert(&sb, nil) })
	assert.Panics(t, func() { g.AppendInsert(&sb, &ModificationCommand{}) }, "empty table name")
	assert.Panics(t, func() { g.AppendSelectAffectedCommand(&sb, cmd) }, "read-back without read columns")
}
