package update

import (
	"fmt"

	"github.com/vireo-orm/vireo/internal/tracking"
)

// ModificationCommand is the ordered set of column operations for one DML
// statement against one table.
type ModificationCommand struct {
	TableName string
	Schema    string
	Entry     *tracking.Entry
	Columns   []*ColumnModification
}

func (c *ModificationCommand) WriteColumns() []*ColumnModification {
	return c.filter(func(cm *ColumnModification) bool { return cm.IsWrite })
}

func (c *ModificationCommand) KeyColumns() []*ColumnModification {
	return c.filter(func(cm *ColumnModification) bool { return cm.IsKey })
}

func (c *ModificationCommand) ConditionColumns() []*ColumnModification {
	return c.filter(func(cm *ColumnModification) bool { return cm.IsCondition })
}

func (c *ModificationCommand) ReadColumns() []*ColumnModification {
	return c.filter(func(cm *ColumnModification) bool { return cm.IsRead })
}

func (c *ModificationCommand) filter(pred func(*ColumnModification) bool) []*ColumnModification {
	var result []*ColumnModification
	for _, cm := range c.Columns {
		if pred(cm) {
			result = append(result, cm)
		}
	}
	return result
}

// Parameters returns the bindable name/value pairs in the order the
// generated SQL references them: write parameters first (current values),
// then condition parameters (original values).
func (c *ModificationCommand) Parameters() []Parameter {
	var result []Parameter
	for _, cm := range c.Columns {
		if cm.IsWrite {
			result = append(result, Parameter{Name: cm.ParameterName, Value: cm.Value()})
		}
	}
	for _, cm := range c.Columns {
		if cm.IsCondition {
			result = append(result, Parameter{Name: cm.OriginalParameterName, Value: cm.OriginalValue()})
		}
	}
	return result
}

// CommandBuilder classifies a changed entry's properties into column
// read/write/key/condition roles and produces the modification command for
// its state. One builder serves one command batch; parameter names continue
// across commands.
type CommandBuilder struct {
	generator *ParameterNameGenerator
}

func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{generator: NewParameterNameGenerator()}
}

// BuildCommand derives the command matching the entry's state. Unchanged
// entries are a contract violation.
func (b *CommandBuilder) BuildCommand(e *tracking.Entry) *ModificationCommand {
	switch e.State() {
	case tracking.EntityAdded:
		return b.BuildInsert(e)
	case tracking.EntityModified:
		return b.BuildUpdate(e)
	case tracking.EntityDeleted:
		return b.BuildDelete(e)
	}
	panic(fmt.Sprintf("update: no command for entry in state %s", e.State()))
}

// BuildInsert writes every settable property; store-generated properties
// with unset values become read columns instead.
func (b *CommandBuilder) BuildInsert(e *tracking.Entry) *ModificationCommand {
	cmd := b.newCommand(e)
	for _, p := range e.EntityType.Properties() {
		if p.ValueGenerated && tracking.IsZero(e.Current(p)) {
			cmd.Columns = append(cmd.Columns, NewColumnModification(e, p, b.generator, true, false, p.IsPrimaryKey(), false))
			continue
		}
		if p.ReadOnly {
			continue
		}
		cmd.Columns = append(cmd.Columns, NewColumnModification(e, p, b.generator, false, true, p.IsPrimaryKey(), false))
	}
	return cmd
}

// BuildUpdate writes the modified properties and conditions on the primary
// key plus concurrency tokens, using original values for the condition.
func (b *CommandBuilder) BuildUpdate(e *tracking.Entry) *ModificationCommand {
	cmd := b.newCommand(e)
	for _, p := range e.EntityType.Properties() {
		key := p.IsPrimaryKey()
		condition := key || p.ConcurrencyToken
		write := !key && !p.ReadOnly && e.IsModified(p)
		if !write && !condition {
			continue
		}
		cmd.Columns = append(cmd.Columns, NewColumnModification(e, p, b.generator, false, write, key, condition))
	}
	return cmd
}

// BuildDelete conditions on the primary key and concurrency tokens only.
func (b *CommandBuilder) BuildDelete(e *tracking.Entry) *ModificationCommand {
	cmd := b.newCommand(e)
	for _, p := range e.EntityType.Properties() {
		key := p.IsPrimaryKey()
		if !key && !p.ConcurrencyToken {
			continue
		}
		cmd.Columns = append(cmd.Columns, NewColumnModification(e, p, b.generator, false, false, key, true))
	}
	return cmd
}

func (b *CommandBuilder) newCommand(e *tracking.Entry) *ModificationCommand {
	return &ModificationCommand{
		TableName: e.EntityType.TableName,
		Schema:    e.EntityType.Schema,
		Entry:     e,
	}
}
