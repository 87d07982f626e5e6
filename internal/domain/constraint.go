package domain

import "sort"

// Range bounds a column domain. Nil bounds are unbounded.
type Range struct {
	Low           any
	High          any
	LowInclusive  bool
	HighInclusive bool
}

// Domain is the set of values a predicate allows for one column:
// either discrete values or a range.
type Domain struct {
	Values []any
	Range  *Range
}

// SingleValue returns a one-value domain.
func SingleValue(v any) Domain { return Domain{Values: []any{v}} }

// ValueSet returns a discrete multi-value domain.
func ValueSet(values ...any) Domain { return Domain{Values: append([]any(nil), values...)} }

// IsSingleValue reports whether the domain pins exactly one value.
func (d Domain) IsSingleValue() bool { return d.Range == nil && len(d.Values) == 1 }

// IsDiscrete reports whether the domain lists values rather than a range.
func (d Domain) IsDiscrete() bool { return d.Range == nil && len(d.Values) > 0 }

// Constraint maps column names to their allowed domains. The zero value
// allows everything. Constraints are built incrementally and never mutated in place.
type Constraint struct {
	domains map[string]Domain
}

// With returns a new constraint that adds or replaces the domain for column.
func (c Constraint) With(column string, d Domain) Constraint {
	out := make(map[string]Domain, len(c.domains)+1)
	for k, v := range c.domains {
		out[k] = v
	}
	out[column] = d
	return Constraint{domains: out}
}

// Domain returns the domain constraining column, if any.
func (c Constraint) Domain(column string) (Domain, bool) {
	d, ok := c.domains[column]
	return d, ok
}

// SingleValue returns the literal value pinned for column.
func (c Constraint) SingleValue(column string) (any, bool) {
	d, ok := c.domains[column]
	if !ok || !d.IsSingleValue() {
		return nil, false
	}
	return d.Values[0], true
}

// IsAll reports whether the constraint places no restriction.
func (c Constraint) IsAll() bool { return len(c.domains) == 0 }

// Columns returns the constrained column names, sorted.
func (c Constraint) Columns() []string {
	names := make([]string, 0, len(c.domains))
	for k := range c.domains {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
