package metadata

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
)

// EntityType describes a mapped struct type: its properties, navigations,
// primary key and outgoing foreign keys. Instances are immutable once the
// model is built.
type EntityType struct {
	Name      string
	TableName string
	Schema    string
	GoType    reflect.Type

	properties     []*Property
	propertyByName map[string]*Property
	navigations    []*Navigation
	primaryKey     []*Property
	foreignKeys    []*ForeignKey
	shadowCount    int
}

func (e *EntityType) Properties() []*Property { return e.properties }

func (e *EntityType) Property(name string) *Property {
	return e.propertyByName[name]
}

func (e *EntityType) Navigations() []*Navigation { return e.navigations }

func (e *EntityType) Navigation(name string) *Navigation {
	for _, n := range e.navigations {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func (e *EntityType) PrimaryKey() []*Property    { return e.primaryKey }
func (e *EntityType) ForeignKeys() []*ForeignKey { return e.foreignKeys }
func (e *EntityType) ShadowPropertyCount() int   { return e.shadowCount }

// Property describes one mapped scalar member of an entity type. Shadow
// properties have no backing struct field; their storage lives on the entry.
type Property struct {
	Name             string
	ColumnName       string
	GoType           reflect.Type
	Nullable         bool
	Shadow           bool
	ConcurrencyToken bool
	ReadOnly         bool
	ValueGenerated   bool
	DeclaringType    *EntityType

	primaryKey bool
	foreignKey bool

	index       int
	shadowIndex int
	fieldIndex  int
}

func (p *Property) IsPrimaryKey() bool { return p.primaryKey }
func (p *Property) IsForeignKey() bool { return p.foreignKey }

func (p *Property) Index() int { return p.index }

// SetIndex assigns the positional index of the property. Negative indexes are
// a contract violation.
func (p *Property) SetIndex(i int) {
	if i < 0 {
		panic(fmt.Sprintf("metadata: property %s.%s: index must not be negative, got %d", p.DeclaringType.Name, p.Name, i))
	}
	p.index = i
}

// ShadowIndex returns the slot of the property in the entry's shadow-value
// storage. It is assigned if and only if the property is a shadow property.
func (p *Property) ShadowIndex() int { return p.shadowIndex }

func (p *Property) SetShadowIndex(i int) {
	if i < 0 {
		panic(fmt.Sprintf("metadata: property %s.%s: shadow index must not be negative, got %d", p.DeclaringType.Name, p.Name, i))
	}
	if !p.Shadow {
		panic(fmt.Sprintf("metadata: property %s.%s is not a shadow property", p.DeclaringType.Name, p.Name))
	}
	p.shadowIndex = i
}

// FieldIndex returns the reflect struct field index, or -1 for shadow
// properties.
func (p *Property) FieldIndex() int { return p.fieldIndex }

// Navigation describes a relationship member: a pointer to another entity
// (reference) or a slice of pointers (collection).
type Navigation struct {
	Name          string
	DeclaringType *EntityType
	Target        *EntityType
	Collection    bool

	fieldIndex int
	collection *CollectionAccessor
}

func (n *Navigation) FieldIndex() int { return n.fieldIndex }

// CollectionAccessor returns the resolved accessor for collection
// navigations, nil for references.
func (n *Navigation) CollectionAccessor() *CollectionAccessor { return n.collection }

// ForeignKey ties dependent properties to the principal entity's key.
type ForeignKey struct {
	DeclaringType       *EntityType
	Properties          []*Property
	PrincipalType       *EntityType
	PrincipalProperties []*Property
	Navigation          *Navigation
}

// Model is the immutable set of entity types plus reverse foreign-key
// lookups.
type Model struct {
	entities    map[reflect.Type]*EntityType
	referencing map[*Property][]*ForeignKey
}

// Entity returns the entity type mapped for t, dereferencing pointers.
func (m *Model) Entity(t reflect.Type) *EntityType {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return m.entities[t]
}

// EntityFor returns the entity type for an instance.
func (m *Model) EntityFor(entity interface{}) *EntityType {
	return m.Entity(reflect.TypeOf(entity))
}

func (m *Model) Entities() []*EntityType {
	result := make([]*EntityType, 0, len(m.entities))
	for _, e := range m.entities {
		result = append(result, e)
	}
	return result
}

// ReferencingForeignKeys returns every foreign key in the model whose
// principal side includes the given property.
func (m *Model) ReferencingForeignKeys(p *Property) []*ForeignKey {
	return m.referencing[p]
}

type shadowDef struct {
	name   string
	goType reflect.Type
}

// Builder collects entity types and produces a Model. Accessor resolution
// goes through the cache supplied at construction.
type Builder struct {
	types  []reflect.Type
	shadow map[reflect.Type][]shadowDef
	cache  *AccessorCache
}

func NewBuilder(cache *AccessorCache) *Builder {
	if cache == nil {
		panic("metadata: accessor cache must not be nil")
	}
	return &Builder{
		shadow: make(map[reflect.Type][]shadowDef),
		cache:  cache,
	}
}

// AddEntity registers a struct type for mapping. Duplicate registrations are
// ignored.
func (b *Builder) AddEntity(entity interface{}) {
	t := reflect.TypeOf(entity)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("metadata: entity type must be a struct, got %s", t.Kind()))
	}
	for _, existing := range b.types {
		if existing == t {
			return
		}
	}
	b.types = append(b.types, t)
}

// AddShadowProperty declares a mapped property with no backing field on the
// entity type.
func (b *Builder) AddShadowProperty(entity interface{}, name string, goType reflect.Type) {
	t := reflect.TypeOf(entity)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if name == "" {
		panic("metadata: shadow property name must not be empty")
	}
	b.shadow[t] = append(b.shadow[t], shadowDef{name: name, goType: goType})
}

// Build resolves properties, navigations and foreign keys for every
// registered type.
func (b *Builder) Build() (*Model, error) {
	model := &Model{
		entities:    make(map[reflect.Type]*EntityType),
		referencing: make(map[*Property][]*ForeignKey),
	}
	registered := make(map[reflect.Type]bool, len(b.types))
	for _, t := range b.types {
		registered[t] = true
	}

	// First pass: properties and navigation stubs per type.
	type navField struct {
		nav   *Navigation
		field reflect.StructField
	}
	pending := make(map[*EntityType][]navField)
	for _, t := range b.types {
		entity := &EntityType{
			Name:           t.Name(),
			TableName:      tableName(t),
			GoType:         t,
			propertyByName: make(map[string]*Property),
		}
		model.entities[t] = entity

		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue
			}
			tags := make(map[string]string)
			parseTags(field.Tag.Get("vireo"), tags)
			parseTags(field.Tag.Get("gorm"), tags)
			if _, skip := tags["-"]; skip {
				continue
			}
			if isNavigationField(field.Type, registered) {
				nav := &Navigation{
					Name:          field.Name,
					DeclaringType: entity,
					Collection:    field.Type.Kind() == reflect.Slice,
					fieldIndex:    i,
				}
				entity.navigations = append(entity.navigations, nav)
				pending[entity] = append(pending[entity], navField{nav: nav, field: field})
				continue
			}
			if bad, reason := isUnsupportedRelationshipField(field.Type, registered); bad {
				return nil, fmt.Errorf("metadata: %s.%s: %s", t.Name(), field.Name, reason)
			}
			scalar := field.Type
			if scalar.Kind() == reflect.Ptr {
				scalar = scalar.Elem()
			}
			if !isScalarType(scalar) {
				return nil, fmt.Errorf("metadata: %s.%s: struct type %s is not a mapped scalar, register it as an entity or exclude it with \"-\"", t.Name(), field.Name, scalar.String())
			}
			prop := buildProperty(entity, field, tags, i)
			prop.SetIndex(len(entity.properties))
			entity.properties = append(entity.properties, prop)
			entity.propertyByName[prop.Name] = prop
			if prop.primaryKey {
				entity.primaryKey = append(entity.primaryKey, prop)
			}
		}

		for _, def := range b.shadow[t] {
			prop := &Property{
				Name:          def.name,
				ColumnName:    def.name,
				GoType:        def.goType,
				Shadow:        true,
				DeclaringType: entity,
				fieldIndex:    -1,
			}
			prop.SetIndex(len(entity.properties))
			prop.SetShadowIndex(entity.shadowCount)
			entity.shadowCount++
			entity.properties = append(entity.properties, prop)
			entity.propertyByName[prop.Name] = prop
		}

		// A PK-less type defaults to an Id/ID property, like the tracker's
		// key probing.
		if len(entity.primaryKey) == 0 {
			for _, name := range []string{"Id", "ID"} {
				if p := entity.propertyByName[name]; p != nil {
					p.primaryKey = true
					entity.primaryKey = append(entity.primaryKey, p)
					if isAutoGeneratedKind(p.GoType) {
						p.ValueGenerated = true
					}
					break
				}
			}
		}
	}

	// Second pass: resolve navigation targets, accessors and foreign keys.
	for entity, navs := range pending {
		for _, nf := range navs {
			target := model.entities[navigationTargetType(nf.field.Type)]
			nf.nav.Target = target
			if nf.nav.Collection {
				acc, err := b.cache.CollectionAccessor(entity.GoType, nf.nav.Name)
				if err != nil {
					return nil, err
				}
				nf.nav.collection = acc
				continue
			}
			fk := resolveForeignKey(entity, nf.nav, target)
			if fk == nil {
				continue
			}
			entity.foreignKeys = append(entity.foreignKeys, fk)
			for _, p := range fk.Properties {
				p.foreignKey = true
			}
			for _, p := range fk.PrincipalProperties {
				model.referencing[p] = append(model.referencing[p], fk)
			}
		}
	}
	return model, nil
}

func buildProperty(entity *EntityType, field reflect.StructField, tags map[string]string, fieldIndex int) *Property {
	prop := &Property{
		Name:          field.Name,
		ColumnName:    field.Name,
		GoType:        field.Type,
		Nullable:      isNullableType(field.Type),
		DeclaringType: entity,
		fieldIndex:    fieldIndex,
	}
	if col, ok := tags["column"]; ok && col != "" {
		prop.ColumnName = col
	}
	if _, ok := tags["primary_key"]; ok {
		prop.primaryKey = true
		prop.Nullable = false
	}
	if _, ok := tags["primaryKey"]; ok {
		prop.primaryKey = true
		prop.Nullable = false
	}
	if _, ok := tags["auto_increment"]; ok {
		prop.ValueGenerated = true
	}
	if _, ok := tags["autoIncrement"]; ok {
		prop.ValueGenerated = true
	}
	if _, ok := tags["concurrency"]; ok {
		prop.ConcurrencyToken = true
	}
	if _, ok := tags["readonly"]; ok {
		prop.ReadOnly = true
	}
	if _, ok := tags["not_null"]; ok {
		prop.Nullable = false
	}
	return prop
}

// resolveForeignKey finds the dependent property backing a reference
// navigation: either a property tagged fk:<navigation> or one named
// <Navigation>ID / <Navigation>Id.
func resolveForeignKey(entity *EntityType, nav *Navigation, target *EntityType) *ForeignKey {
	if target == nil || len(target.primaryKey) == 0 {
		return nil
	}
	var dependent *Property
	for _, p := range entity.properties {
		if p.Shadow || p.fieldIndex < 0 {
			continue
		}
		field := entity.GoType.Field(p.fieldIndex)
		tags := make(map[string]string)
		parseTags(field.Tag.Get("vireo"), tags)
		if fkNav, ok := tags["fk"]; ok && fkNav == nav.Name {
			dependent = p
			break
		}
	}
	if dependent == nil {
		for _, suffix := range []string{"ID", "Id"} {
			if p := entity.propertyByName[nav.Name+suffix]; p != nil {
				dependent = p
				break
			}
		}
	}
	if dependent == nil {
		return nil
	}
	return &ForeignKey{
		DeclaringType:       entity,
		Properties:          []*Property{dependent},
		PrincipalType:       target,
		PrincipalProperties: target.primaryKey,
		Navigation:          nav,
	}
}

var scalarStructTypes = map[reflect.Type]bool{
	reflect.TypeOf(time.Time{}): true,
}

// isScalarType reports whether a field type maps to a single column. Struct
// types only qualify when they are known single-value types, like uuid.UUID
// or time.Time.
func isScalarType(t reflect.Type) bool {
	if t == reflect.TypeOf(uuid.UUID{}) {
		return true
	}
	if scalarStructTypes[t] {
		return true
	}
	switch t.Kind() {
	case reflect.Struct:
		return false
	default:
		return true
	}
}

func isNavigationField(t reflect.Type, registered map[reflect.Type]bool) bool {
	switch t.Kind() {
	case reflect.Ptr:
		return t.Elem().Kind() == reflect.Struct && registered[t.Elem()]
	case reflect.Slice:
		elem := t.Elem()
		return elem.Kind() == reflect.Ptr && elem.Elem().Kind() == reflect.Struct && registered[elem.Elem()]
	}
	return false
}

// isUnsupportedRelationshipField reports field shapes that look like
// relationships but that the accessor machinery cannot bind.
func isUnsupportedRelationshipField(t reflect.Type, registered map[reflect.Type]bool) (bool, string) {
	switch t.Kind() {
	case reflect.Array:
		elem := t.Elem()
		if elem.Kind() == reflect.Struct && registered[elem] {
			return true, "arrays are not a supported collection navigation shape, use a slice of pointers"
		}
		if elem.Kind() == reflect.Ptr && registered[elem.Elem()] {
			return true, "arrays are not a supported collection navigation shape, use a slice of pointers"
		}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Struct && registered[t.Elem()] {
			return true, "collection navigation elements must be pointers"
		}
	case reflect.Struct:
		if registered[t] {
			return true, "reference navigations must be pointers"
		}
	}
	return false, ""
}

func navigationTargetType(t reflect.Type) reflect.Type {
	switch t.Kind() {
	case reflect.Ptr:
		return t.Elem()
	case reflect.Slice:
		return t.Elem().Elem()
	}
	return t
}

func isAutoGeneratedKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func tableName(t reflect.Type) string {
	if tabler, ok := reflect.New(t).Interface().(interface{ TableName() string }); ok {
		return tabler.TableName()
	}
	return inflection.Plural(toSnakeCase(t.Name()))
}

func parseTags(tagStr string, tags map[string]string) {
	parts := strings.Split(tagStr, ";")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, ":") {
			kv := strings.SplitN(part, ":", 2)
			tags[kv[0]] = kv[1]
		} else {
			tags[part] = ""
		}
	}
}

func isNullableType(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr ||
		t.Kind() == reflect.Interface ||
		t.Kind() == reflect.Slice ||
		t.Kind() == reflect.Map
}

func toSnakeCase(str string) string {
	var result strings.Builder
	for i, r := range str {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
