package vireo

import (
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"

	"github.com/vireo-orm/vireo/internal/metadata"
	"github.com/vireo-orm/vireo/internal/query"
	"github.com/vireo-orm/vireo/internal/update"
)

var comparisonOps = map[string]bool{
	"=": true, "<>": true, "!=": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"LIKE": true, "NOT LIKE": true,
}

// Query is a typed, composable query over one registered entity type. Each
// operator mutates the underlying select expression; paging and DISTINCT
// nest the accumulated body into subqueries as needed, so operator order is
// preserved in the generated SQL.
type Query[T any] struct {
	ctx    *DbContext
	entity *metadata.EntityType
	sel    *query.SelectExpression
	params []update.Parameter
	err    error
}

// NewQuery starts a typed query on the context.
func NewQuery[T any](ctx *DbContext) *Query[T] {
	q := &Query[T]{ctx: ctx}

	var zero T
	goType := reflect.TypeOf(zero)
	if goType == nil {
		q.err = fmt.Errorf("vireo: query element type must be a struct")
		return q
	}
	if goType.Kind() == reflect.Ptr {
		goType = goType.Elem()
	}

	model, err := ctx.Model()
	if err != nil {
		q.err = err
		return q
	}
	entity := model.Entity(goType)
	if entity == nil {
		q.err = fmt.Errorf("vireo: type %s is not registered on this context", goType.Name())
		return q
	}

	q.entity = entity
	q.sel = query.NewSelectExpression()
	table := &query.TableExpression{Name: entity.TableName, Schema: entity.Schema, Source: entity}
	q.sel.AddTable(table)
	for _, p := range entity.Properties() {
		if p.Shadow {
			continue
		}
		q.sel.AddToProjection(&query.ColumnExpression{Name: p.ColumnName, Table: table})
	}
	return q
}

// column resolves a property name to a column reference against whatever
// source currently carries it, which after paging is the pushed-down
// subquery rather than the base table.
func (q *Query[T]) column(field string) (*query.ColumnExpression, error) {
	p := q.entity.Property(field)
	if p == nil {
		return nil, fmt.Errorf("vireo: %s has no property %s", q.entity.Name, field)
	}
	source := q.sel.TableForQuerySource(q.entity)
	if source == nil {
		return nil, fmt.Errorf("vireo: no query source for %s", q.entity.Name)
	}
	return &query.ColumnExpression{Name: p.ColumnName, Table: source}, nil
}

func (q *Query[T]) parameter(value interface{}) *query.ParameterExpression {
	name := fmt.Sprintf("p%d", len(q.params))
	q.params = append(q.params, update.Parameter{Name: name, Value: value})
	return &query.ParameterExpression{Name: name}
}

// Where adds a comparison predicate, ANDed with any existing one.
func (q *Query[T]) Where(field string, op string, value interface{}) *Query[T] {
	if q.err != nil {
		return q
	}
	op = strings.ToUpper(strings.TrimSpace(op))
	if !comparisonOps[op] {
		q.err = fmt.Errorf("vireo: unsupported comparison operator %q", op)
		return q
	}
	col, err := q.column(field)
	if err != nil {
		q.err = err
		return q
	}
	q.sel.AddPredicate(&query.BinaryExpression{Op: op, Left: col, Right: q.parameter(value)})
	return q
}

// WhereEquals is shorthand for Where(field, "=", value).
func (q *Query[T]) WhereEquals(field string, value interface{}) *Query[T] {
	return q.Where(field, "=", value)
}

// WhereIsNull adds an IS NULL predicate on the field.
func (q *Query[T]) WhereIsNull(field string) *Query[T] {
	if q.err != nil {
		return q
	}
	col, err := q.column(field)
	if err != nil {
		q.err = err
		return q
	}
	q.sel.AddPredicate(&query.BinaryExpression{Op: "IS", Left: col, Right: &query.LiteralExpression{Value: nil}})
	return q
}

// WhereIn adds an IN predicate over the given values.
func (q *Query[T]) WhereIn(field string, values ...interface{}) *Query[T] {
	if q.err != nil {
		return q
	}
	if len(values) == 0 {
		q.err = fmt.Errorf("vireo: IN requires at least one value")
		return q
	}
	col, err := q.column(field)
	if err != nil {
		q.err = err
		return q
	}
	items := make([]query.Expression, len(values))
	for i, v := range values {
		items[i] = q.parameter(v)
	}
	q.sel.AddPredicate(&query.BinaryExpression{Op: "IN", Left: col, Right: &query.ListExpression{Items: items}})
	return q
}

func (q *Query[T]) orderBy(field string, descending bool) *Query[T] {
	if q.err != nil {
		return q
	}
	col, err := q.column(field)
	if err != nil {
		q.err = err
		return q
	}
	q.sel.AddToOrderBy(&query.Ordering{Expression: col, Descending: descending})
	return q
}

func (q *Query[T]) OrderBy(field string) *Query[T] {
	return q.orderBy(field, false)
}

func (q *Query[T]) OrderByDescending(field string) *Query[T] {
	return q.orderBy(field, true)
}

func (q *Query[T]) ThenBy(field string) *Query[T] {
	return q.orderBy(field, false)
}

func (q *Query[T]) ThenByDescending(field string) *Query[T] {
	return q.orderBy(field, true)
}

// Take caps the result set. Applying a second limit nests the first.
func (q *Query[T]) Take(count int) *Query[T] {
	if q.err != nil {
		return q
	}
	q.sel.SetLimit(count)
	return q
}

// Skip sets the paging offset.
func (q *Query[T]) Skip(count int) *Query[T] {
	if q.err != nil {
		return q
	}
	q.sel.SetOffset(count)
	return q
}

func (q *Query[T]) Distinct() *Query[T] {
	if q.err != nil {
		return q
	}
	q.sel.SetDistinct(true)
	return q
}

// Select narrows the projection to the named properties.
func (q *Query[T]) Select(fields ...string) *Query[T] {
	if q.err != nil {
		return q
	}
	if len(fields) == 0 {
		q.err = fmt.Errorf("vireo: Select requires at least one property")
		return q
	}
	cols := make([]*query.ColumnExpression, len(fields))
	for i, field := range fields {
		col, err := q.column(field)
		if err != nil {
			q.err = err
			return q
		}
		cols[i] = col
	}
	q.sel.ClearProjection()
	for _, col := range cols {
		q.sel.AddToProjection(col)
	}
	return q
}

// ToSQL renders the query without executing it.
func (q *Query[T]) ToSQL() (string, []update.Parameter, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	generator := query.NewGenerator(q.ctx.GetDriver().Dialect())
	sqlText, err := generator.Generate(q.sel)
	if err != nil {
		return "", nil, err
	}
	return sqlText, q.params, nil
}

// ToList executes the query and attaches the materialized rows to the
// change tracker.
func (q *Query[T]) ToList() ([]T, error) {
	sqlText, params, err := q.ToSQL()
	if err != nil {
		return nil, err
	}
	args := q.ctx.GetDriver().BindParameters(params)
	var results []T
	if err := q.ctx.GetDB().Raw(sqlText, args...).Scan(&results).Error; err != nil {
		return nil, err
	}
	for i := range results {
		if err := q.ctx.TrackLoaded(&results[i]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// First returns the first row, erroring when none matches.
func (q *Query[T]) First() (*T, error) {
	results, err := q.Take(1).ToList()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &results[0], nil
}

// FirstOrDefault returns the first row, or nil when none matches.
func (q *Query[T]) FirstOrDefault() (*T, error) {
	result, err := q.First()
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return result, err
}

// Single returns the only matching row, erroring when the match is missing
// or ambiguous.
func (q *Query[T]) Single() (*T, error) {
	results, err := q.Take(2).ToList()
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, gorm.ErrRecordNotFound
	case 1:
		return &results[0], nil
	}
	return nil, fmt.Errorf("sequence contains more than one element")
}

// Count collapses the query to COUNT(*), pushing any applied paging or
// DISTINCT down first.
func (q *Query[T]) Count() (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	q.sel.SetProjectionExpression(&query.FunctionExpression{Name: "COUNT", Star: true})
	return q.scanInt()
}

// Any reports whether the query matches at least one row.
func (q *Query[T]) Any() (bool, error) {
	count, err := q.Count()
	return count > 0, err
}

func (q *Query[T]) aggregate(fn string, field string) (interface{}, error) {
	if q.err != nil {
		return nil, q.err
	}
	col, err := q.column(field)
	if err != nil {
		return nil, err
	}
	q.sel.SetProjectionExpression(&query.FunctionExpression{Name: fn, Args: []query.Expression{col}})
	sqlText, params, err := q.ToSQL()
	if err != nil {
		return nil, err
	}
	args := q.ctx.GetDriver().BindParameters(params)
	var result interface{}
	row := q.ctx.GetDB().Raw(sqlText, args...).Row()
	if err := row.Scan(&result); err != nil {
		return nil, err
	}
	return result, nil
}

func (q *Query[T]) Sum(field string) (interface{}, error) { return q.aggregate("SUM", field) }

func (q *Query[T]) Min(field string) (interface{}, error) { return q.aggregate("MIN", field) }

func (q *Query[T]) Max(field string) (interface{}, error) { return q.aggregate("MAX", field) }

func (q *Query[T]) Average(field string) (interface{}, error) { return q.aggregate("AVG", field) }

func (q *Query[T]) scanInt() (int64, error) {
	sqlText, params, err := q.ToSQL()
	if err != nil {
		return 0, err
	}
	args := q.ctx.GetDriver().BindParameters(params)
	var count int64
	row := q.ctx.GetDB().Raw(sqlText, args...).Row()
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
