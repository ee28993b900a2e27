package db

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// Op is a comparison operator usable by every backend.
type Op string

const (
	OpEq    Op = "=="
	OpNe    Op = "!="
	OpIn    Op = "in"
	OpNotIn Op = "not-in"
)

// Condition compares one top-level field against a value.
type Condition struct {
	Field string
	Op    Op
	Value interface{}
}

// Filter is a conjunction of conditions. The zero Filter matches everything.
type Filter struct {
	Conditions []Condition
}

// All matches every record.
var All = Filter{}

// Where starts a filter with a single condition.
func Where(field string, op Op, value interface{}) Filter {
	return Filter{}.And(field, op, value)
}

// And returns a copy of f with one more condition.
func (f Filter) And(field string, op Op, value interface{}) Filter {
	conds := make([]Condition, len(f.Conditions), len(f.Conditions)+1)
	copy(conds, f.Conditions)
	conds = append(conds, Condition{Field: field, Op: op, Value: normalizeValue(value)})
	return Filter{Conditions: conds}
}

// Matches evaluates the filter against a decoded document.
func (f Filter) Matches(doc Document) bool {
	if doc == nil {
		return false
	}
	for _, c := range f.Conditions {
		v, ok := doc[c.Field]
		switch c.Op {
		case OpEq:
			if !ok || !valuesEqual(v, c.Value) {
				return false
			}
		case OpNe:
			if ok && valuesEqual(v, c.Value) {
				return false
			}
		case OpIn:
			if !ok || !containsValue(c.Value, v) {
				return false
			}
		case OpNotIn:
			if ok && containsValue(c.Value, v) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// BSON translates the filter into a MongoDB query document.
func (f Filter) BSON() bson.M {
	q := bson.M{}
	for _, c := range f.Conditions {
		var expr interface{}
		switch c.Op {
		case OpEq:
			expr = bson.M{"$eq": c.Value}
		case OpNe:
			expr = bson.M{"$ne": c.Value}
		case OpIn:
			expr = bson.M{"$in": c.Value}
		case OpNotIn:
			expr = bson.M{"$nin": c.Value}
		}
		if existing, ok := q[c.Field].(bson.M); ok {
			for k, v := range expr.(bson.M) {
				existing[k] = v
			}
			continue
		}
		q[c.Field] = expr
	}
	return q
}

// normalizeValue strips named types so stored and queried values compare equal.
func normalizeValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func valuesEqual(a, b interface{}) bool {
	a, b = normalizeValue(a), normalizeValue(b)
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return av == bv
		case float64:
			return float64(av) == bv
		}
	case float64:
		switch bv := b.(type) {
		case int64:
			return av == float64(bv)
		case float64:
			return av == bv
		}
	case []interface{}:
		return false
	}
	return reflect.DeepEqual(a, b)
}

func containsValue(set interface{}, v interface{}) bool {
	items, ok := normalizeValue(set).([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if valuesEqual(item, v) {
			return true
		}
	}
	return false
}
