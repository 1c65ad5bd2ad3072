package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vireo-orm/vireo/internal/update"
)

// Dialect is the rendering surface the SELECT generator needs. Any DML
// dialect satisfies it.
type Dialect interface {
	DelimitIdentifier(name string) string
	EscapeLiteral(value string) string
	Placeholder(name string, ordinal int) string
	OffsetWithoutLimitClause() string
}

// Generator renders a finished select expression tree to SQL text. The tree
// itself never executes anything.
type Generator struct {
	dialect Dialect
	ordinal int
}

func NewGenerator(dialect Dialect) *Generator {
	if dialect == nil {
		dialect = update.AnsiDialect{}
	}
	return &Generator{dialect: dialect}
}

// Generate renders the expression to a single SELECT statement without a
// terminator.
func (g *Generator) Generate(s *SelectExpression) (string, error) {
	if s == nil {
		panic("query: select expression must not be nil")
	}
	g.ordinal = 0
	var sb strings.Builder
	if err := g.visitSelect(&sb, s); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (g *Generator) visitSelect(sb *strings.Builder, s *SelectExpression) error {
	sb.WriteString("SELECT ")
	if s.IsDistinct() {
		sb.WriteString("DISTINCT ")
	}
	if err := g.visitProjection(sb, s); err != nil {
		return err
	}

	if sub := s.Subquery(); sub != nil {
		sb.WriteString(" FROM (")
		if err := g.visitSelect(sb, sub); err != nil {
			return err
		}
		sb.WriteString(") AS ")
		sb.WriteString(g.dialect.DelimitIdentifier(sub.TableAlias()))
	} else if tables := s.Tables(); len(tables) > 0 {
		sb.WriteString(" FROM ")
		for i, tj := range tables {
			if i > 0 {
				switch tj.Kind {
				case CrossJoin:
					sb.WriteString(" CROSS JOIN ")
				case InnerJoin:
					sb.WriteString(" INNER JOIN ")
				case LeftOuterJoin:
					sb.WriteString(" LEFT JOIN ")
				default:
					sb.WriteString(", ")
				}
			}
			g.visitTable(sb, tj.Table)
			if i > 0 && tj.On != nil {
				sb.WriteString(" ON ")
				if err := g.visitExpression(sb, tj.On); err != nil {
					return err
				}
			}
		}
	}

	if s.Predicate() != nil {
		sb.WriteString(" WHERE ")
		if err := g.visitExpression(sb, s.Predicate()); err != nil {
			return err
		}
	}

	if orderings := s.Orderings(); len(orderings) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, o := range orderings {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := g.visitExpression(sb, o.Expression); err != nil {
				return err
			}
			if o.Descending {
				sb.WriteString(" DESC")
			}
		}
	}

	if s.Limit() != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(*s.Limit()))
	} else if s.Offset() != nil {
		// Some grammars require a LIMIT clause before OFFSET.
		if clause := g.dialect.OffsetWithoutLimitClause(); clause != "" {
			sb.WriteString(" ")
			sb.WriteString(clause)
		}
	}
	if s.Offset() != nil {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(*s.Offset()))
	}
	return nil
}

func (g *Generator) visitProjection(sb *strings.Builder, s *SelectExpression) error {
	if expr := s.ProjectionExpression(); expr != nil {
		return g.visitExpression(sb, expr)
	}
	if projection := s.Projection(); len(projection) > 0 {
		for i, col := range projection {
			if i > 0 {
				sb.WriteString(", ")
			}
			g.visitQualifiedColumn(sb, col)
			if col.Alias != "" {
				sb.WriteString(" AS ")
				sb.WriteString(g.dialect.DelimitIdentifier(col.Alias))
			}
		}
		return nil
	}
	if sub := s.Subquery(); sub != nil {
		sb.WriteString(g.dialect.DelimitIdentifier(sub.TableAlias()))
		sb.WriteString(".*")
		return nil
	}
	sb.WriteString("*")
	return nil
}

func (g *Generator) visitTable(sb *strings.Builder, t *TableExpression) {
	if t.Schema != "" {
		sb.WriteString(g.dialect.DelimitIdentifier(t.Schema))
		sb.WriteString(".")
	}
	sb.WriteString(g.dialect.DelimitIdentifier(t.Name))
	if t.Alias != "" {
		sb.WriteString(" AS ")
		sb.WriteString(g.dialect.DelimitIdentifier(t.Alias))
	}
}

func (g *Generator) visitQualifiedColumn(sb *strings.Builder, col *ColumnExpression) {
	if col.Table != nil && col.Table.TableAlias() != "" {
		sb.WriteString(g.dialect.DelimitIdentifier(col.Table.TableAlias()))
		sb.WriteString(".")
	}
	sb.WriteString(g.dialect.DelimitIdentifier(col.Name))
}

func (g *Generator) visitExpression(sb *strings.Builder, e Expression) error {
	switch expr := e.(type) {
	case *ColumnExpression:
		g.visitQualifiedColumn(sb, expr)
	case *LiteralExpression:
		g.visitLiteral(sb, expr.Value)
	case *ParameterExpression:
		sb.WriteString(g.dialect.Placeholder(expr.Name, g.ordinal))
		g.ordinal++
	case *BinaryExpression:
		if err := g.visitExpression(sb, expr.Left); err != nil {
			return err
		}
		sb.WriteString(" ")
		sb.WriteString(expr.Op)
		sb.WriteString(" ")
		if err := g.visitExpression(sb, expr.Right); err != nil {
			return err
		}
	case *FunctionExpression:
		sb.WriteString(expr.Name)
		sb.WriteString("(")
		if expr.Star {
			sb.WriteString("*")
		} else {
			for i, arg := range expr.Args {
				if i > 0 {
					sb.WriteString(", ")
				}
				if err := g.visitExpression(sb, arg); err != nil {
					return err
				}
			}
		}
		sb.WriteString(")")
	case *ListExpression:
		sb.WriteString("(")
		for i, item := range expr.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := g.visitExpression(sb, item); err != nil {
				return err
			}
		}
		sb.WriteString(")")
	case *SelectExpression:
		sb.WriteString("(")
		if err := g.visitSelect(sb, expr); err != nil {
			return err
		}
		sb.WriteString(")")
	default:
		return fmt.Errorf("query: unsupported expression node %T", e)
	}
	return nil
}

func (g *Generator) visitLiteral(sb *strings.Builder, value interface{}) {
	switch v := value.(type) {
	case nil:
		sb.WriteString("NULL")
	case string:
		sb.WriteString(g.dialect.EscapeLiteral(v))
	case bool:
		if v {
			sb.WriteString("TRUE")
		} else {
			sb.WriteString("FALSE")
		}
	default:
		fmt.Fprintf(sb, "%v", v)
	}
}
