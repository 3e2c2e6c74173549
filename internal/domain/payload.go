package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TypeTag identifies the type of a payload node using a small, closed set
// instead of ad hoc runtime checks. Leaf scalars carry one of the four
// scalar tags; containers carry TypeArray or TypeObject. TypeMixed marks a
// position observed with conflicting types across records.
type TypeTag string

// Payload node type tags.
const (
	TypeNull    TypeTag = "null"
	TypeBoolean TypeTag = "boolean"
	TypeNumber  TypeTag = "number"
	TypeString  TypeTag = "string"
	TypeArray   TypeTag = "array"
	TypeObject  TypeTag = "object"
	TypeMixed   TypeTag = "mixed"
)

// Value is one node of a parsed payload tree. Exactly the fields implied by
// Kind are meaningful: Str for TypeString, Num for TypeNumber (original JSON
// text), Bool for TypeBoolean, Items for TypeArray, Fields for TypeObject.
type Value struct {
	Kind   TypeTag
	Str    string
	Num    string
	Bool   bool
	Items  []Value
	Fields map[string]Value
}

// IsNull reports whether the value is a JSON null.
func (v Value) IsNull() bool { return v.Kind == TypeNull }

// Scalar returns the value rendered as a string for scalar kinds, and
// ok=false for arrays, objects, and nulls.
func (v Value) Scalar() (s string, ok bool) {
	switch v.Kind {
	case TypeString:
		return v.Str, true
	case TypeNumber:
		return v.Num, true
	case TypeBoolean:
		if v.Bool {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// ParsePayload decodes a raw JSON document into a Value tree. Numbers are
// kept as their original JSON text so no precision is lost before a
// transformation rule decides how to interpret them.
func ParsePayload(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Value{}, ErrValidation("unparseable payload: %v", err)
	}
	// Reject trailing garbage after the document.
	if dec.More() {
		return Value{}, ErrValidation("unparseable payload: trailing data after JSON document")
	}

	v, err := fromJSON(raw)
	if err != nil {
		return Value{}, err
	}
	return v, nil
}

func fromJSON(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Value{Kind: TypeNull}, nil
	case bool:
		return Value{Kind: TypeBoolean, Bool: t}, nil
	case string:
		return Value{Kind: TypeString, Str: t}, nil
	case json.Number:
		return Value{Kind: TypeNumber, Num: t.String()}, nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, e := range t {
			v, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{Kind: TypeArray, Items: items}, nil
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Value{Kind: TypeObject, Fields: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported payload node %T", raw)
	}
}
