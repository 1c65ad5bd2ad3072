package metadata

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type author struct {
	Id    int
	Name  string
	Books []*book
}

type book struct {
	Id       int64 `gorm:"primaryKey;autoIncrement"`
	Title    string
	AuthorId int
	Author   *author
	Version  int    `vireo:"concurrency"`
	Slug     string `vireo:"column:slug_text"`
	Notes    string `gorm:"-"`
}

type ledger struct {
	Code   string `vireo:"primary_key"`
	Amount float64
}

func (ledger) TableName() string { return "ledger_entries" }

func buildTestModel(t *testing.T, entities ...interface{}) *Model {
	t.Helper()
	builder := NewBuilder(NewAccessorCache())
	for _, e := range entities {
		builder.AddEntity(e)
	}
	model, err := builder.Build()
	require.NoError(t, err)
	return model
}

func TestBuildResolvesProperties(t *testing.T) {
	model := buildTestModel(t, author{}, book{})
	entity := model.Entity(reflect.TypeOf(book{}))
	require.NotNil(t, entity)

	id := entity.Property("Id")
	require.NotNil(t, id)
	assert.True(t, id.IsPrimaryKey())
	assert.True(t, id.ValueGenerated)

	version := entity.Property("Version")
	require.NotNil(t, version)
	assert.True(t, version.ConcurrencyToken)

	slug := entity.Property("Slug")
	require.NotNil(t, slug)
	assert.Equal(t, "slug_text", slug.ColumnName)

	assert.Nil(t, entity.Property("Notes"), "gorm:\"-\" fields are unmapped")
	assert.Nil(t, entity.Property("Author"), "navigations are not scalar properties")
}

func TestDefaultKeyProbing(t *testing.T) {
	model := buildTestModel(t, author{}, book{})
	entity := model.Entity(reflect.TypeOf(author{}))
	require.NotNil(t, entity)

	require.Len(t, entity.PrimaryKey(), 1)
	id := entity.PrimaryKey()[0]
	assert.Equal(t, "Id", id.Name)
	assert.True(t, id.ValueGenerated, "integer default keys are store-generated")
}

func TestTaggedKeyIsNotAutoGenerated(t *testing.T) {
	model := buildTestModel(t, ledger{})
	entity := model.Entity(reflect.TypeOf(ledger{}))
	require.NotNil(t, entity)

	require.Len(t, entity.PrimaryKey(), 1)
	assert.Equal(t, "Code", entity.PrimaryKey()[0].Name)
	assert.False(t, entity.PrimaryKey()[0].ValueGenerated)
}

func TestTableNaming(t *testing.T) {
	model := buildTestModel(t, author{}, ledger{})

	assert.Equal(t, "authors", model.Entity(reflect.TypeOf(author{})).TableName)
	assert.Equal(t, "ledger_entries", model.Entity(reflect.TypeOf(ledger{})).TableName, "Tabler overrides the pluralized default")
}

func TestForeignKeyResolution(t *testing.T) {
	model := buildTestModel(t, author{}, book{})
	bookType := model.Entity(reflect.TypeOf(book{}))
	authorType := model.Entity(reflect.TypeOf(author{}))

	require.Len(t, bookType.ForeignKeys(), 1)
	fk := bookType.ForeignKeys()[0]
	require.Len(t, fk.Properties, 1)
	assert.Equal(t, "AuthorId", fk.Properties[0].Name)
	assert.True(t, fk.Properties[0].IsForeignKey())
	assert.Equal(t, authorType, fk.PrincipalType)
	assert.Equal(t, "Author", fk.Navigation.Name)

	referencing := model.ReferencingForeignKeys(authorType.Property("Id"))
	require.Len(t, referencing, 1)
	assert.Equal(t, fk, referencing[0])
}

func TestForeignKeyTagBeatsNamingConvention(t *testing.T) {
	type owner struct {
		Id int
	}
	type pet struct {
		Id     int
		Keeper int `vireo:"fk:Owner"`
		Owner  *owner
	}
	model := buildTestModel(t, owner{}, pet{})
	petType := model.Entity(reflect.TypeOf(pet{}))

	require.Len(t, petType.ForeignKeys(), 1)
	assert.Equal(t, "Keeper", petType.ForeignKeys()[0].Properties[0].Name)
}

func TestNavigationShapes(t *testing.T) {
	model := buildTestModel(t, author{}, book{})
	authorType := model.Entity(reflect.TypeOf(author{}))
	bookType := model.Entity(reflect.TypeOf(book{}))

	books := authorType.Navigation("Books")
	require.NotNil(t, books)
	assert.True(t, books.Collection)
	assert.Equal(t, bookType, books.Target)
	assert.NotNil(t, books.CollectionAccessor())

	ref := bookType.Navigation("Author")
	require.NotNil(t, ref)
	assert.False(t, ref.Collection)
	assert.Nil(t, ref.CollectionAccessor())
}

func TestUnsupportedRelationshipShapes(t *testing.T) {
	type target struct {
		Id int
	}

	tests := []struct {
		name   string
		entity interface{}
	}{
		{"value slice", struct {
			Id    int
			Items []target
		}{}},
		{"array", struct {
			Id    int
			Items [3]*target
		}{}},
		{"embedded value", struct {
			Id   int
			Item target
		}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := NewBuilder(NewAccessorCache())
			builder.AddEntity(target{})
			builder.AddEntity(tt.entity)
			_, err := builder.Build()
			assert.Error(t, err)
		})
	}
}

func TestScalarStructFieldsMapAsProperties(t *testing.T) {
	type token struct {
		Id     uuid.UUID `vireo:"primary_key"`
		Issued time.Time
		Note   string
	}
	model := buildTestModel(t, token{})
	entity := model.Entity(reflect.TypeOf(token{}))

	require.Len(t, entity.PrimaryKey(), 1)
	id := entity.PrimaryKey()[0]
	assert.Equal(t, "Id", id.Name)
	assert.False(t, id.ValueGenerated, "uuid keys are caller-assigned")
	assert.NotNil(t, entity.Property("Issued"))
}

func TestUnmappedStructFieldIsRejected(t *testing.T) {
	type address struct {
		City string
	}
	type shop struct {
		Id       int
		Location address
	}
	builder := NewBuilder(NewAccessorCache())
	builder.AddEntity(shop{})
	_, err := builder.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Location")
}

func TestShadowProperties(t *testing.T) {
	builder := NewBuilder(NewAccessorCache())
	builder.AddEntity(author{})
	builder.AddEntity(book{})
	builder.AddShadowProperty(author{}, "TenantId", reflect.TypeOf(""))
	model, err := builder.Build()
	require.NoError(t, err)

	entity := model.Entity(reflect.TypeOf(author{}))
	assert.Equal(t, 1, entity.ShadowPropertyCount())

	tenant := entity.Property("TenantId")
	require.NotNil(t, tenant)
	assert.True(t, tenant.Shadow)
	assert.Equal(t, 0, tenant.ShadowIndex())
	assert.Equal(t, -1, tenant.FieldIndex())
}

func TestIndexContractViolations(t *testing.T) {
	model := buildTestModel(t, author{}, book{})
	entity := model.Entity(reflect.TypeOf(author{}))
	name := entity.Property("Name")
	require.NotNil(t, name)

	assert.Panics(t, func() { name.SetIndex(-1) })
	assert.Panics(t, func() { name.SetShadowIndex(0) }, "non-shadow properties have no shadow slot")
}
