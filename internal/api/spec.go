package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/zulandar/buildyard/internal/resultspec"
)

// Reserved query keys that are not field filters.
const (
	keyOrder  = "order"
	keyOffset = "offset"
	keyLimit  = "limit"
	keyField  = "field"
)

// parseSpec builds a resultspec query from URL query parameters. Filters
// use the field__op=value form (plain field=value means eq); order takes a
// field name with an optional leading "-" for descending.
func parseSpec(query url.Values) (*resultspec.Spec, error) {
	spec := &resultspec.Spec{}

	for key, values := range query {
		switch key {
		case keyOrder:
			field := values[0]
			desc := strings.HasPrefix(field, "-")
			spec.Order = &resultspec.Order{
				Field:      strings.TrimPrefix(field, "-"),
				Descending: desc,
			}
		case keyOffset:
			n, err := strconv.Atoi(values[0])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad offset %q", resultspec.ErrValidation, values[0])
			}
			spec.Offset = n
		case keyLimit:
			n, err := strconv.Atoi(values[0])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad limit %q", resultspec.ErrValidation, values[0])
			}
			spec.Limit = n
		case keyField:
			spec.Fields = append(spec.Fields, values...)
		default:
			f, err := parseFilter(key, values)
			if err != nil {
				return nil, err
			}
			spec.Filters = append(spec.Filters, f)
		}
	}
	return spec, nil
}

// parseFilter splits a field__op key and types its values.
func parseFilter(key string, values []string) (resultspec.Filter, error) {
	field, op := key, resultspec.OpEq
	if i := strings.Index(key, "__"); i >= 0 {
		field, op = key[:i], key[i+2:]
	}
	switch op {
	case resultspec.OpEq, resultspec.OpNe, resultspec.OpLt, resultspec.OpLe,
		resultspec.OpGt, resultspec.OpGe, resultspec.OpContains:
	default:
		return resultspec.Filter{}, fmt.Errorf("%w: unknown operator %q", resultspec.ErrValidation, op)
	}

	typed := make([]any, len(values))
	for i, v := range values {
		typed[i] = typeValue(v)
	}
	return resultspec.Filter{Field: field, Op: op, Values: typed}, nil
}

// typeValue guesses the scalar type of a query string value. Booleans and
// integers are recognized; everything else stays a string.
func typeValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	return v
}
