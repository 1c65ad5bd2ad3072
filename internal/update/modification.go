package update

import (
	"fmt"

	"github.com/vireo-orm/vireo/internal/metadata"
	"github.com/vireo-orm/vireo/internal/tracking"
)

// ParameterNameGenerator hands out parameter names for one command batch.
// Write, original-value and output names are independent monotone sequences;
// a sequence only advances when a column actually needs a name from it, so
// unused slots never consume one.
type ParameterNameGenerator struct {
	write    int
	original int
	output   int
}

func NewParameterNameGenerator() *ParameterNameGenerator {
	return &ParameterNameGenerator{}
}

func (g *ParameterNameGenerator) NextWrite() string {
	name := fmt.Sprintf("p%d", g.write)
	g.write++
	return name
}

func (g *ParameterNameGenerator) NextOriginal() string {
	name := fmt.Sprintf("o%d", g.original)
	g.original++
	return name
}

func (g *ParameterNameGenerator) NextOutput() string {
	name := fmt.Sprintf("r%d", g.output)
	g.output++
	return name
}

// ColumnModification ties one property of one entry to its role in a single
// DML statement. A parameter name is present if and only if the
// corresponding flag is set.
type ColumnModification struct {
	Entry      *tracking.Entry
	Property   *metadata.Property
	ColumnName string

	// ParameterName binds the written value; set iff IsWrite.
	ParameterName string
	// OriginalParameterName binds the pre-change value used in the
	// concurrency condition; set iff IsCondition.
	OriginalParameterName string
	// OutputParameterName labels a value retrieved after execution; set iff
	// IsRead.
	OutputParameterName string

	IsRead      bool
	IsWrite     bool
	IsKey       bool
	IsCondition bool
}

func NewColumnModification(entry *tracking.Entry, property *metadata.Property, generator *ParameterNameGenerator, read, write, key, condition bool) *ColumnModification {
	if entry == nil {
		panic("update: entry must not be nil")
	}
	if property == nil {
		panic("update: property must not be nil")
	}
	if generator == nil {
		panic("update: parameter name generator must not be nil")
	}
	cm := &ColumnModification{
		Entry:       entry,
		Property:    property,
		ColumnName:  property.ColumnName,
		IsRead:      read,
		IsWrite:     write,
		IsKey:       key,
		IsCondition: condition,
	}
	if write {
		cm.ParameterName = generator.NextWrite()
	}
	if condition {
		cm.OriginalParameterName = generator.NextOriginal()
	}
	if read {
		cm.OutputParameterName = generator.NextOutput()
	}
	return cm
}

// Value reads the live current value of the column's property.
func (cm *ColumnModification) Value() interface{} {
	return cm.Entry.Current(cm.Property)
}

// SetValue writes through to the entry's live store, so database-generated
// values land on the entity after execution.
func (cm *ColumnModification) SetValue(value interface{}) {
	cm.Entry.SetCurrent(cm.Property, value)
}

// OriginalValue reads through to the entry's original-value store when a
// snapshot exists, and synthesizes from the current value otherwise (inserts
// have no prior original).
func (cm *ColumnModification) OriginalValue() interface{} {
	if cm.Entry.HasOriginal() {
		return cm.Entry.Original(cm.Property)
	}
	return cm.Entry.Current(cm.Property)
}

// Parameter is one name/value pair of the rendered command, ready for
// binding.
type Parameter struct {
	Name  string
	Value interface{}
}
