package query

import "fmt"

// Expression is a node of the relational query tree.
type Expression interface {
	expressionNode()
}

// ColumnExpression projects or references one column of a table source.
type ColumnExpression struct {
	Name  string
	Alias string
	Table TableSource
}

func (*ColumnExpression) expressionNode() {}

// EffectiveName is the name the column is visible under: its alias when one
// was assigned, its own name otherwise.
func (c *ColumnExpression) EffectiveName() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}

// LiteralExpression is an inline constant.
type LiteralExpression struct {
	Value interface{}
}

func (*LiteralExpression) expressionNode() {}

// ParameterExpression is a bind-parameter reference.
type ParameterExpression struct {
	Name string
}

func (*ParameterExpression) expressionNode() {}

// BinaryExpression combines two operands with an infix SQL operator.
type BinaryExpression struct {
	Op    string
	Left  Expression
	Right Expression
}

func (*BinaryExpression) expressionNode() {}

// FunctionExpression is a function call such as COUNT(*) or MAX(col).
type FunctionExpression struct {
	Name string
	Args []Expression
	Star bool
}

func (*FunctionExpression) expressionNode() {}

// ListExpression is a parenthesized value list, as used by IN.
type ListExpression struct {
	Items []Expression
}

func (*ListExpression) expressionNode() {}

// TableSource is anything a column can originate from: a real table or a
// pushed-down subquery. Lookups go by reference identity of the originating
// query source object, never by name.
type TableSource interface {
	TableAlias() string
	QuerySource() interface{}
}

// TableExpression is a schema-qualified real table.
type TableExpression struct {
	Name   string
	Schema string
	Alias  string
	Source interface{}
}

func (t *TableExpression) TableAlias() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

func (t *TableExpression) QuerySource() interface{} { return t.Source }

// JoinKind classifies how a table source combines with the preceding ones.
type JoinKind int

const (
	JoinNone JoinKind = iota
	CrossJoin
	InnerJoin
	LeftOuterJoin
)

// TableJoin is one entry of the FROM list: a table plus how it joins.
type TableJoin struct {
	Kind  JoinKind
	Table *TableExpression
	On    Expression
}

// Ordering is one ORDER BY element.
type Ordering struct {
	Expression Expression
	Descending bool
}

// SelectExpression is the mutable tree representing one SELECT statement.
// Mutations that would change evaluation order (LIMIT, OFFSET, DISTINCT,
// scalar projection over paging) push the current body down into a numbered
// subquery and continue on the outer shell.
type SelectExpression struct {
	tables         []*TableJoin
	projection     []*ColumnExpression
	projectionExpr Expression
	projectStar    bool
	predicate      Expression
	orderings      []*Ordering
	limit          *int
	offset         *int
	distinct       bool

	subquery    *SelectExpression
	alias       string
	querySource interface{}

	aliasCounter *int
}

func NewSelectExpression() *SelectExpression {
	counter := 0
	return &SelectExpression{aliasCounter: &counter}
}

func (s *SelectExpression) expressionNode() {}

// TableSource implementation, for when the expression is a subquery source.

func (s *SelectExpression) TableAlias() string { return s.alias }

func (s *SelectExpression) QuerySource() interface{} { return s.querySource }

func (s *SelectExpression) Tables() []*TableJoin { return s.tables }

func (s *SelectExpression) Projection() []*ColumnExpression { return s.projection }

func (s *SelectExpression) ProjectionExpression() Expression { return s.projectionExpr }

func (s *SelectExpression) IsProjectStar() bool { return s.projectStar }

func (s *SelectExpression) Predicate() Expression { return s.predicate }

func (s *SelectExpression) Orderings() []*Ordering { return s.orderings }

func (s *SelectExpression) Limit() *int { return s.limit }

func (s *SelectExpression) Offset() *int { return s.offset }

func (s *SelectExpression) IsDistinct() bool { return s.distinct }

func (s *SelectExpression) Subquery() *SelectExpression { return s.subquery }

// AddTable appends a base table source.
func (s *SelectExpression) AddTable(t *TableExpression) {
	if t == nil {
		panic("query: table must not be nil")
	}
	s.tables = append(s.tables, &TableJoin{Kind: JoinNone, Table: t})
}

// AddCrossJoin imports the joined expression's single table, optionally
// merging its projection. The joined expression must carry no ordering.
func (s *SelectExpression) AddCrossJoin(other *SelectExpression, includeProjection bool) *TableExpression {
	return s.addJoin(CrossJoin, other, includeProjection, nil)
}

// AddInnerJoin imports the joined expression's single table with an ON
// predicate, optionally merging its projection. The joined expression must
// carry no ordering.
func (s *SelectExpression) AddInnerJoin(other *SelectExpression, includeProjection bool, on Expression) *TableExpression {
	return s.addJoin(InnerJoin, other, includeProjection, on)
}

func (s *SelectExpression) addJoin(kind JoinKind, other *SelectExpression, includeProjection bool, on Expression) *TableExpression {
	if other == nil {
		panic("query: joined expression must not be nil")
	}
	if len(other.orderings) != 0 {
		panic("query: joined expression must not carry an ordering")
	}
	if len(other.tables) != 1 {
		panic(fmt.Sprintf("query: joined expression must hold exactly one table source, got %d", len(other.tables)))
	}
	t := other.tables[0].Table
	s.tables = append(s.tables, &TableJoin{Kind: kind, Table: t, On: on})
	if includeProjection {
		for _, col := range other.projection {
			s.AddToProjection(col)
		}
	}
	return t
}

// AddToProjection appends a column to the projection list, deduplicating by
// originating source and name, and returns its index. Setting a column
// projection clears any scalar projection expression.
func (s *SelectExpression) AddToProjection(col *ColumnExpression) int {
	if col == nil {
		panic("query: projection column must not be nil")
	}
	s.projectionExpr = nil
	if col.Table != nil {
		if idx := s.GetProjectionIndex(col.Table.QuerySource(), col.Name); idx >= 0 {
			return idx
		}
	}
	s.projection = append(s.projection, col)
	return len(s.projection) - 1
}

// ClearProjection drops the column projection so a narrower one can be
// assembled.
func (s *SelectExpression) ClearProjection() {
	s.projection = nil
	s.projectionExpr = nil
	s.projectStar = false
}

// SetProjectionExpression replaces the projection with a single scalar
// expression (for example an aggregate). Paging and DISTINCT already applied
// must evaluate first, so both force a push-down.
func (s *SelectExpression) SetProjectionExpression(e Expression) {
	if e == nil {
		panic("query: projection expression must not be nil")
	}
	if s.limit != nil {
		s.PushDownSubquery()
	}
	if s.distinct {
		s.PushDownSubquery()
	}
	s.projection = nil
	s.projectStar = false
	s.projectionExpr = e
}

// SetPredicate replaces the WHERE predicate.
func (s *SelectExpression) SetPredicate(e Expression) { s.predicate = e }

// AddPredicate ANDs another condition onto the WHERE predicate.
func (s *SelectExpression) AddPredicate(e Expression) {
	if e == nil {
		panic("query: predicate must not be nil")
	}
	if s.predicate == nil {
		s.predicate = e
		return
	}
	s.predicate = &BinaryExpression{Op: "AND", Left: s.predicate, Right: e}
}

// AddToOrderBy appends an ORDER BY element.
func (s *SelectExpression) AddToOrderBy(o *Ordering) {
	if o == nil {
		panic("query: ordering must not be nil")
	}
	s.orderings = append(s.orderings, o)
}

func (s *SelectExpression) ClearOrderBy() { s.orderings = nil }

// SetLimit records the row limit. A limit that is already present must
// apply before the new one, so the body pushes down first; every repeated
// assignment nests one level deeper.
func (s *SelectExpression) SetLimit(limit int) {
	if s.limit != nil {
		s.PushDownSubquery()
	}
	s.limit = &limit
}

// SetOffset records the paging offset. When a limit is already applied the
// body pushes down; the inner ordering is copied up retargeted at subquery
// columns, since OFFSET needs the ordering visible outside the paging
// boundary, and the inner offset is cleared as superseded.
func (s *SelectExpression) SetOffset(offset int) {
	if s.limit != nil {
		subquery := s.PushDownSubquery()
		for _, o := range subquery.orderings {
			s.orderings = append(s.orderings, &Ordering{
				Expression: subquery.liftOrderingExpression(o.Expression),
				Descending: o.Descending,
			})
		}
		subquery.offset = nil
	}
	s.offset = &offset
}

// SetDistinct records the DISTINCT flag, pushing down first when paging is
// already applied so DISTINCT cannot interact with it.
func (s *SelectExpression) SetDistinct(distinct bool) {
	if distinct && (s.limit != nil || s.offset != nil) {
		s.PushDownSubquery()
	}
	s.distinct = distinct
}

// PushDownSubquery moves the current body into a subquery aliased tN (N
// monotone across pushes) and leaves the outer shell star-projecting over
// it. Projected columns are deduplicated by name; on collision the inner
// column receives a synthetic cN alias before adoption.
func (s *SelectExpression) PushDownSubquery() *SelectExpression {
	n := *s.aliasCounter
	*s.aliasCounter++

	subquery := &SelectExpression{
		tables:         s.tables,
		projectionExpr: s.projectionExpr,
		projectStar:    s.projectStar,
		predicate:      s.predicate,
		orderings:      s.orderings,
		limit:          s.limit,
		offset:         s.offset,
		distinct:       s.distinct,
		subquery:       s.subquery,
		alias:          fmt.Sprintf("t%d", n),
		aliasCounter:   s.aliasCounter,
	}

	seen := make(map[string]bool, len(s.projection))
	synthetic := 0
	for _, col := range s.projection {
		name := col.EffectiveName()
		for seen[name] {
			name = fmt.Sprintf("c%d", synthetic)
			synthetic++
			col.Alias = name
		}
		seen[name] = true
		subquery.projection = append(subquery.projection, col)
	}

	s.tables = nil
	s.projection = nil
	s.projectionExpr = nil
	s.predicate = nil
	s.orderings = nil
	s.limit = nil
	s.offset = nil
	s.distinct = false
	s.subquery = subquery
	s.projectStar = true
	return subquery
}

// liftOrderingExpression rewrites an inner ordering expression as a
// reference to the subquery's output column, projecting it first when the
// subquery has an explicit projection that lacks it.
func (s *SelectExpression) liftOrderingExpression(e Expression) Expression {
	col, ok := e.(*ColumnExpression)
	if !ok {
		return e
	}
	if len(s.projection) > 0 && col.Table != nil {
		if s.GetProjectionIndex(col.Table.QuerySource(), col.Name) < 0 {
			s.projection = append(s.projection, col)
		}
	}
	return &ColumnExpression{Name: col.EffectiveName(), Table: s}
}

// TableForQuerySource finds the table source originating from the given
// query source object, falling back to the subquery. Identity, not name,
// decides the match.
func (s *SelectExpression) TableForQuerySource(querySource interface{}) TableSource {
	for _, tj := range s.tables {
		if tj.Table.QuerySource() == querySource {
			return tj.Table
		}
	}
	if s.subquery != nil {
		return s.subquery
	}
	return nil
}

// GetProjectionIndex returns the index of the projected column originating
// from the given query source under the given name, or -1.
func (s *SelectExpression) GetProjectionIndex(querySource interface{}, name string) int {
	for i, col := range s.projection {
		if col.Table != nil && col.Table.QuerySource() == querySource && col.Name == name {
			return i
		}
	}
	return -1
}

// SubqueryDepth reports how many push-downs are nested under this
// expression.
func (s *SelectExpression) SubqueryDepth() int {
	depth := 0
	for sub := s.subquery; sub != nil; sub = sub.subquery {
		depth++
	}
	return depth
}
