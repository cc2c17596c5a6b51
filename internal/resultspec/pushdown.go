package resultspec

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ApplyToDB pushes the spec's filters, order, and pagination window down
// into a gorm query. columns maps queryable field names to their SQL column
// names; fields absent from the map are rejected, matching the in-memory
// path. Projection still happens after retrieval.
func (s *Spec) ApplyToDB(q *gorm.DB, columns map[string]string) (*gorm.DB, error) {
	if s == nil {
		return q, nil
	}

	for _, f := range s.Filters {
		col, ok := columns[f.Field]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrValidation, f.Field)
		}
		if len(f.Values) == 0 {
			return nil, fmt.Errorf("%w: %s on %q: no operand values", ErrValidation, f.Op, f.Field)
		}

		switch f.Op {
		case OpEq:
			q = q.Where(fmt.Sprintf("%s IN ?", col), f.Values)
		case OpNe:
			// NULL rows pass ne in memory (a missing value equals nothing),
			// so keep them here too instead of letting NOT IN drop them.
			q = q.Where(fmt.Sprintf("(%s NOT IN ? OR %s IS NULL)", col, col), f.Values)
		case OpLt, OpLe, OpGt, OpGe:
			// OR across the filter's values, like the in-memory path.
			cmp := map[string]string{OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">="}[f.Op]
			conds := make([]string, len(f.Values))
			args := make([]any, len(f.Values))
			for i, v := range f.Values {
				conds[i] = fmt.Sprintf("%s %s ?", col, cmp)
				args[i] = v
			}
			q = q.Where("("+strings.Join(conds, " OR ")+")", args...)
		case OpContains:
			conds := make([]string, len(f.Values))
			args := make([]any, len(f.Values))
			for i, v := range f.Values {
				sub, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("%w: contains on %q: operand is not a string", ErrValidation, f.Field)
				}
				conds[i] = fmt.Sprintf("%s LIKE ?", col)
				args[i] = "%" + escapeLike(sub) + "%"
			}
			q = q.Where("("+strings.Join(conds, " OR ")+")", args...)
		default:
			return nil, fmt.Errorf("%w: unknown operator %q", ErrValidation, f.Op)
		}
	}

	if s.Order != nil {
		col, ok := columns[s.Order.Field]
		if !ok {
			return nil, fmt.Errorf("%w: unknown sort field %q", ErrValidation, s.Order.Field)
		}
		dir := "ASC"
		if s.Order.Descending {
			dir = "DESC"
		}
		q = q.Order(fmt.Sprintf("%s %s", col, dir))
	}

	if s.Offset > 0 {
		q = q.Offset(s.Offset)
	}
	if s.Limit > 0 {
		q = q.Limit(s.Limit)
	}
	return q, nil
}

// escapeLike escapes the SQL LIKE metacharacters in a literal substring.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
