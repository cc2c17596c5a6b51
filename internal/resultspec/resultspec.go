// Package resultspec implements the generic filter/sort/paginate/project
// query engine used by every multi-entity read.
//
// A Spec is evaluated either in memory over a slice of entities, or pushed
// down into a store query; the semantics are identical either way. Filters
// AND together; the values within one filter OR together.
package resultspec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Filter operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpLt       = "lt"
	OpLe       = "le"
	OpGt       = "gt"
	OpGe       = "ge"
	OpContains = "contains"
)

// ErrValidation marks a malformed query: unknown field, unknown operator,
// or an operator applied to a field it cannot work on. Distinct from an
// empty result set.
var ErrValidation = errors.New("resultspec: invalid query")

// Filter selects entities whose field matches any of Values under Op.
type Filter struct {
	Field  string
	Op     string
	Values []any
}

// Order sorts results by one field. Absent order preserves natural order.
type Order struct {
	Field      string
	Descending bool
}

// Spec is a declarative query: filter, then sort, then paginate, then
// optionally project down to a field subset.
type Spec struct {
	Filters []Filter
	Order   *Order
	Offset  int
	Limit   int // 0 means no limit
	Fields  []string
}

// Entity is a record the engine can read fields from by name. The second
// return reports whether the field exists for this entity type.
type Entity interface {
	Field(name string) (any, bool)
}

// Apply evaluates the spec over items in memory: filters (AND of ORs),
// stable sort, then the offset/limit window. Projection is separate; see
// Project.
func Apply[T Entity](spec *Spec, items []T) ([]T, error) {
	if spec == nil {
		return items, nil
	}

	out := make([]T, 0, len(items))
	for _, item := range items {
		match, err := matches(spec.Filters, item)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, item)
		}
	}

	if spec.Order != nil {
		var sortErr error
		field := spec.Order.Field
		sort.SliceStable(out, func(i, j int) bool {
			a, ok := out[i].Field(field)
			if !ok {
				sortErr = fmt.Errorf("%w: unknown sort field %q", ErrValidation, field)
				return false
			}
			b, _ := out[j].Field(field)
			c, err := compare(a, b)
			if err != nil {
				sortErr = fmt.Errorf("%w: sort on %q: %v", ErrValidation, field, err)
				return false
			}
			if spec.Order.Descending {
				return c > 0
			}
			return c < 0
		})
		if sortErr != nil {
			return nil, sortErr
		}
	}

	return window(out, spec.Offset, spec.Limit), nil
}

// Project restricts an entity to the named fields, failing on unknown ones.
func Project(e Entity, fields []string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, name := range fields {
		v, ok := e.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrValidation, name)
		}
		out[name] = v
	}
	return out, nil
}

// window applies the offset/limit pagination window.
func window[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// matches reports whether item passes every filter.
func matches(filters []Filter, item Entity) (bool, error) {
	for _, f := range filters {
		v, ok := item.Field(f.Field)
		if !ok {
			return false, fmt.Errorf("%w: unknown field %q", ErrValidation, f.Field)
		}
		match, err := matchOne(f, v)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

// matchOne evaluates one filter entry against a field value. The values
// within the filter are alternatives, except for ne which excludes all of
// them.
func matchOne(f Filter, v any) (bool, error) {
	switch f.Op {
	case OpEq:
		for _, want := range f.Values {
			eq, err := equal(v, want)
			if err != nil {
				return false, fmt.Errorf("%w: %s on %q: %v", ErrValidation, f.Op, f.Field, err)
			}
			if eq {
				return true, nil
			}
		}
		return false, nil

	case OpNe:
		for _, want := range f.Values {
			eq, err := equal(v, want)
			if err != nil {
				return false, fmt.Errorf("%w: %s on %q: %v", ErrValidation, f.Op, f.Field, err)
			}
			if eq {
				return false, nil
			}
		}
		return true, nil

	case OpLt, OpLe, OpGt, OpGe:
		for _, want := range f.Values {
			c, err := compare(v, want)
			if err != nil {
				return false, fmt.Errorf("%w: %s on %q: %v", ErrValidation, f.Op, f.Field, err)
			}
			ok := false
			switch f.Op {
			case OpLt:
				ok = c < 0
			case OpLe:
				ok = c <= 0
			case OpGt:
				ok = c > 0
			case OpGe:
				ok = c >= 0
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case OpContains:
		s, sok := v.(string)
		if !sok {
			return false, fmt.Errorf("%w: contains on %q: field is not a string", ErrValidation, f.Field)
		}
		for _, want := range f.Values {
			sub, wok := want.(string)
			if !wok {
				return false, fmt.Errorf("%w: contains on %q: operand is not a string", ErrValidation, f.Field)
			}
			if strings.Contains(s, sub) {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrValidation, f.Op)
	}
}

// equal compares two values for equality across the small set of scalar
// types entity fields use. Nil (absent) values equal only nil.
func equal(a, b any) (bool, error) {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv, nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv, nil
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv, nil
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv, nil
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv), nil
	default:
		return false, fmt.Errorf("cannot compare %T values", a)
	}
}

// compare orders two values, returning <0, 0, or >0. Nil sorts before
// everything else.
func compare(a, b any) (int, error) {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare bool with %T", b)
		}
		return boolToInt(av) - boolToInt(bv), nil
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare string with %T", b)
		}
		return strings.Compare(av, bv), nil
	case int64:
		bv, ok := b.(int64)
		if !ok {
			return 0, fmt.Errorf("cannot compare integer with %T", b)
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, fmt.Errorf("cannot compare float with %T", b)
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare time with %T", b)
		}
		return av.Compare(bv), nil
	default:
		return 0, fmt.Errorf("cannot order %T values", a)
	}
}

// normalize collapses the integer types and pointer scalars entity fields
// and query parsers produce into the canonical comparison types.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case *int:
		if t == nil {
			return nil
		}
		return int64(*t)
	case *int64:
		if t == nil {
			return nil
		}
		return *t
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case *bool:
		if t == nil {
			return nil
		}
		return *t
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	default:
		return v
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
