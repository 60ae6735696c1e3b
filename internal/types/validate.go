package types

import (
	"errors"
	"math"
	"reflect"
	"regexp"
	"strings"

	"github.com/rgthelen/alp/pkg/schema"
)

// Validate coerces a value against a registered type reference or an inline
// type expression. Shape defaults are applied before field checks; the
// returned value includes them.
func (r *Registry) Validate(ref string, v any) (any, error) {
	if s, ok := r.Shape(ref); ok {
		return r.validateShape(s, v)
	}
	if d, ok := r.Def(ref); ok {
		return r.validateDef(d, v)
	}
	return r.validateExpr(ref, v)
}

func (r *Registry) validateShape(s *schema.Shape, v any) (any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrType, "value for shape %q is not an object", s.ID)
	}

	// Defaults fill missing keys before the required check.
	if len(s.Defaults) > 0 {
		filled := make(map[string]any, len(obj)+len(s.Defaults))
		for k, val := range obj {
			filled[k] = val
		}
		for k, val := range s.Defaults {
			if _, ok := filled[k]; !ok {
				filled[k] = val
			}
		}
		obj = filled
	}

	for _, f := range s.Fields {
		if f.Optional {
			continue
		}
		if _, ok := obj[f.Name]; !ok {
			return nil, schema.NewErrorf(schema.ErrType, "shape %q: missing required field %q", s.ID, f.Name)
		}
	}

	if s.Strict {
		for k := range obj {
			if _, ok := s.FieldByName(k); !ok {
				return nil, schema.NewErrorf(schema.ErrType, "shape %q: unexpected field %q", s.ID, k)
			}
		}
	}

	for _, f := range s.Fields {
		val, ok := obj[f.Name]
		if !ok {
			continue
		}
		checked, err := r.Validate(f.Type, val)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrType, "shape %q field %q: %v", s.ID, f.Name, underlying(err)).WithCause(err)
		}
		obj[f.Name] = checked
	}
	return obj, nil
}

func (r *Registry) validateDef(d *schema.TypeDef, v any) (any, error) {
	switch d.Variant {
	case schema.DefAlias:
		checked, err := r.Validate(d.Alias, v)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrType, "def %q: %v", d.ID, underlying(err)).WithCause(err)
		}
		return checked, nil

	case schema.DefUnion:
		for _, branch := range d.Union {
			if checked, err := r.Validate(branch, v); err == nil {
				return checked, nil
			}
		}
		return nil, schema.NewErrorf(schema.ErrType, "def %q: value matches no branch of union %v", d.ID, d.Union)

	case schema.DefLiteral:
		if !looseEqual(v, d.Literal) {
			return nil, schema.NewErrorf(schema.ErrType, "def %q: value does not equal literal %v", d.ID, d.Literal)
		}
		return v, nil

	case schema.DefEnum:
		for _, allowed := range d.Enum {
			if looseEqual(v, allowed) {
				return v, nil
			}
		}
		return nil, schema.NewErrorf(schema.ErrType, "def %q: value not in enum %v", d.ID, d.Enum)

	case schema.DefConstrained:
		if _, err := r.validateExpr(d.Base, v); err != nil {
			return nil, schema.NewErrorf(schema.ErrType, "def %q: %v", d.ID, underlying(err)).WithCause(err)
		}
		if err := checkConstraint(d.ID, d.Constraint, v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, schema.NewErrorf(schema.ErrType, "def %q has unknown variant", d.ID)
}

func checkConstraint(id string, c schema.Constraint, v any) error {
	if s, ok := v.(string); ok {
		if c.MinLength != nil && len(s) < *c.MinLength {
			return schema.NewErrorf(schema.ErrType, "def %q: string length %d below minimum %d", id, len(s), *c.MinLength)
		}
		if c.MaxLength != nil && len(s) > *c.MaxLength {
			return schema.NewErrorf(schema.ErrType, "def %q: string length %d above maximum %d", id, len(s), *c.MaxLength)
		}
		if c.Pattern != "" {
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return schema.NewErrorf(schema.ErrSyntax, "def %q: invalid pattern %q", id, c.Pattern).WithCause(err)
			}
			if !re.MatchString(s) {
				return schema.NewErrorf(schema.ErrType, "def %q: string does not match pattern %q", id, c.Pattern)
			}
		}
	}
	if f, ok := numeric(v); ok {
		if c.Min != nil && f < *c.Min {
			return schema.NewErrorf(schema.ErrType, "def %q: value %v below minimum %v", id, f, *c.Min)
		}
		if c.Max != nil && f > *c.Max {
			return schema.NewErrorf(schema.ErrType, "def %q: value %v above maximum %v", id, f, *c.Max)
		}
	}
	return nil
}

// validateExpr handles primitives and the inline collection/enum forms.
func (r *Registry) validateExpr(expr string, v any) (any, error) {
	switch {
	case expr == "str" || expr == "ts":
		if _, ok := v.(string); !ok {
			return nil, schema.NewErrorf(schema.ErrType, "expected %s, got %s", expr, typeName(v))
		}
		return v, nil

	case expr == "int":
		f, ok := numeric(v)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrType, "expected int, got %s", typeName(v))
		}
		if f != math.Trunc(f) {
			return nil, schema.NewErrorf(schema.ErrType, "expected int, got fractional value %v", f)
		}
		return v, nil

	case expr == "float":
		if _, ok := numeric(v); !ok {
			return nil, schema.NewErrorf(schema.ErrType, "expected float, got %s", typeName(v))
		}
		return v, nil

	case expr == "bool":
		if _, ok := v.(bool); !ok {
			return nil, schema.NewErrorf(schema.ErrType, "expected bool, got %s", typeName(v))
		}
		return v, nil

	case strings.HasPrefix(expr, "enum<") && strings.HasSuffix(expr, ">"):
		for _, allowed := range enumValues(expr) {
			if s, ok := v.(string); ok && s == allowed {
				return v, nil
			}
		}
		return nil, schema.NewErrorf(schema.ErrType, "value not in %s", expr)

	case expr == "list" || strings.HasPrefix(expr, "list<"):
		seq, ok := v.([]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrType, "expected list, got %s", typeName(v))
		}
		if elem := innerType(expr); elem != "" {
			for i, item := range seq {
				checked, err := r.Validate(elem, item)
				if err != nil {
					return nil, schema.NewErrorf(schema.ErrType, "element %d: %v", i, underlying(err)).WithCause(err)
				}
				seq[i] = checked
			}
		}
		return seq, nil

	case expr == "map" || strings.HasPrefix(expr, "map<"):
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrType, "expected map, got %s", typeName(v))
		}
		if elem := innerType(expr); elem != "" {
			for k, item := range obj {
				checked, err := r.Validate(elem, item)
				if err != nil {
					return nil, schema.NewErrorf(schema.ErrType, "key %q: %v", k, underlying(err)).WithCause(err)
				}
				obj[k] = checked
			}
		}
		return obj, nil
	}
	return nil, schema.NewErrorf(schema.ErrUnresolved, "unknown type reference %q", expr)
}

func innerType(expr string) string {
	open := strings.IndexByte(expr, '<')
	if open == -1 || !strings.HasSuffix(expr, ">") {
		return ""
	}
	return expr[open+1 : len(expr)-1]
}

func enumValues(expr string) []string {
	body := expr[len("enum<") : len(expr)-1]
	var out []string
	for _, v := range strings.Split(body, ",") {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// looseEqual compares values with numeric promotion, so a decoded 2.0
// equals a literal 2.
func looseEqual(a, b any) bool {
	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "str"
	case float64, float32, int, int64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	}
	return reflect.TypeOf(v).String()
}

func underlying(err error) string {
	var ae *schema.ALPError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
