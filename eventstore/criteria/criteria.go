// Package criteria builds composable, side-effect-free predicates over event
// row columns. A criteria value can be rendered as a parameterised SQL WHERE
// fragment for relational backends, or evaluated in-process against a row
// for document backends.
package criteria

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Well-known property names. Implementations may resolve additional names.
const (
	PropertyTimestamp           = "timeStamp"
	PropertyType                = "type"
	PropertyAggregateIdentifier = "aggregateIdentifier"
	PropertySequenceNumber      = "sequenceNumber"
)

// ValueProvider exposes the column values of a single row to in-process
// evaluation.
type ValueProvider interface {
	PropertyValue(name string) (interface{}, error)
}

// ColumnResolver maps a property name to the column name a backend uses.
type ColumnResolver func(property string) string

// Criteria is a composable predicate over event row columns.
type Criteria interface {
	And(other Criteria) Criteria
	Or(other Criteria) Criteria

	// ParseInto appends a parameterised SQL fragment for this criteria to
	// where, using `?` placeholders, and collects the parameter values.
	ParseInto(cols ColumnResolver, where *strings.Builder, args *[]interface{})

	// Match evaluates the criteria against a single row.
	Match(values ValueProvider) (bool, error)
}

// Builder creates criteria scoped to a backend's column vocabulary.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Property(name string) Property {
	return Property{name: name}
}

// Property is a reference to an event row column, ready to be compared.
type Property struct {
	name string
}

func (p Property) Equals(v interface{}) Criteria            { return &comparison{p.name, "=", v} }
func (p Property) NotEquals(v interface{}) Criteria         { return &comparison{p.name, "<>", v} }
func (p Property) LessThan(v interface{}) Criteria          { return &comparison{p.name, "<", v} }
func (p Property) LessThanEquals(v interface{}) Criteria    { return &comparison{p.name, "<=", v} }
func (p Property) GreaterThan(v interface{}) Criteria       { return &comparison{p.name, ">", v} }
func (p Property) GreaterThanEquals(v interface{}) Criteria { return &comparison{p.name, ">=", v} }

func (p Property) In(values ...interface{}) Criteria {
	return &membership{property: p.name, values: values}
}

func (p Property) IsNull() Criteria    { return &nullCheck{property: p.name, negated: false} }
func (p Property) IsNotNull() Criteria { return &nullCheck{property: p.name, negated: true} }

type comparison struct {
	property string
	operator string
	value    interface{}
}

func (c *comparison) And(other Criteria) Criteria { return and(c, other) }
func (c *comparison) Or(other Criteria) Criteria  { return or(c, other) }

func (c *comparison) ParseInto(cols ColumnResolver, where *strings.Builder, args *[]interface{}) {
	where.WriteString(cols(c.property))
	where.WriteString(" ")
	where.WriteString(c.operator)
	where.WriteString(" ?")
	*args = append(*args, normalize(c.value))
}

func (c *comparison) Match(values ValueProvider) (bool, error) {
	actual, err := values.PropertyValue(c.property)
	if err != nil {
		return false, err
	}
	order, err := compare(normalize(actual), normalize(c.value))
	if err != nil {
		return false, errors.Wrapf(err, "cannot evaluate %s %s", c.property, c.operator)
	}
	switch c.operator {
	case "=":
		return order == 0, nil
	case "<>":
		return order != 0, nil
	case "<":
		return order < 0, nil
	case "<=":
		return order <= 0, nil
	case ">":
		return order > 0, nil
	case ">=":
		return order >= 0, nil
	}
	return false, errors.Errorf("unsupported operator %q", c.operator)
}

type membership struct {
	property string
	values   []interface{}
}

func (m *membership) And(other Criteria) Criteria { return and(m, other) }
func (m *membership) Or(other Criteria) Criteria  { return or(m, other) }

func (m *membership) ParseInto(cols ColumnResolver, where *strings.Builder, args *[]interface{}) {
	where.WriteString(cols(m.property))
	where.WriteString(" IN (")
	for i, v := range m.values {
		if i > 0 {
			where.WriteString(", ")
		}
		where.WriteString("?")
		*args = append(*args, normalize(v))
	}
	where.WriteString(")")
}

func (m *membership) Match(values ValueProvider) (bool, error) {
	actual, err := values.PropertyValue(m.property)
	if err != nil {
		return false, err
	}
	for _, v := range m.values {
		order, err := compare(normalize(actual), normalize(v))
		if err != nil {
			return false, err
		}
		if order == 0 {
			return true, nil
		}
	}
	return false, nil
}

type nullCheck struct {
	property string
	negated  bool
}

func (n *nullCheck) And(other Criteria) Criteria { return and(n, other) }
func (n *nullCheck) Or(other Criteria) Criteria  { return or(n, other) }

func (n *nullCheck) ParseInto(cols ColumnResolver, where *strings.Builder, _ *[]interface{}) {
	where.WriteString(cols(n.property))
	if n.negated {
		where.WriteString(" IS NOT NULL")
	} else {
		where.WriteString(" IS NULL")
	}
}

func (n *nullCheck) Match(values ValueProvider) (bool, error) {
	actual, err := values.PropertyValue(n.property)
	if err != nil {
		return false, err
	}
	if n.negated {
		return actual != nil, nil
	}
	return actual == nil, nil
}

type binary struct {
	left     Criteria
	operator string
	right    Criteria
}

func and(left, right Criteria) Criteria { return &binary{left, "AND", right} }
func or(left, right Criteria) Criteria  { return &binary{left, "OR", right} }

func (b *binary) And(other Criteria) Criteria { return and(b, other) }
func (b *binary) Or(other Criteria) Criteria  { return or(b, other) }

func (b *binary) ParseInto(cols ColumnResolver, where *strings.Builder, args *[]interface{}) {
	where.WriteString("(")
	b.left.ParseInto(cols, where, args)
	where.WriteString(") ")
	where.WriteString(b.operator)
	where.WriteString(" (")
	b.right.ParseInto(cols, where, args)
	where.WriteString(")")
}

func (b *binary) Match(values ValueProvider) (bool, error) {
	left, err := b.left.Match(values)
	if err != nil {
		return false, err
	}
	if b.operator == "AND" && !left {
		return false, nil
	}
	if b.operator == "OR" && left {
		return true, nil
	}
	return b.right.Match(values)
}

// normalize converts comparison operands to the representation rows use.
// Instants become epoch milliseconds, matching the persisted timestamp
// column.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UnixNano() / int64(time.Millisecond)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint64:
		return int64(t)
	case uint32:
		return int64(t)
	}
	return v
}

func compare(a, b interface{}) (int, error) {
	if a == nil || b == nil {
		if a == b {
			return 0, nil
		}
		return 0, errors.New("cannot order a null value")
	}
	switch left := a.(type) {
	case int64:
		right, ok := b.(int64)
		if !ok {
			return 0, errors.Errorf("cannot compare int64 with %T", b)
		}
		switch {
		case left < right:
			return -1, nil
		case left > right:
			return 1, nil
		}
		return 0, nil
	case string:
		right, ok := b.(string)
		if !ok {
			return 0, errors.Errorf("cannot compare string with %T", b)
		}
		return strings.Compare(left, right), nil
	}
	return 0, errors.Errorf("unsupported operand type %T", a)
}
