// Package fingerprint hashes the structural shape of a payload: key sets
// and nesting are preserved, every leaf scalar collapses to its type tag,
// and leaf values are ignored entirely. Two payloads with the same keys,
// nesting, and leaf types produce the same fingerprint regardless of key
// insertion order.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"schemaflow/internal/domain"
)

// Calculate returns the hex-encoded fingerprint of the payload's shape.
func Calculate(v domain.Value) string {
	var b strings.Builder
	writeShape(&b, Shape(v))

	digest := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(digest[:])
}

// Node is the normalized shape of one payload position. Scalars carry only
// Tag; objects carry sorted Fields; arrays carry the union shape of their
// elements in Elem.
type Node struct {
	Tag    domain.TypeTag
	Fields []Field // sorted by key, objects only
	Elem   *Node   // arrays only, nil for empty arrays
}

// Field is one member of an object shape.
type Field struct {
	Key   string
	Shape Node
}

// Shape normalizes a payload tree to its shape. Heterogeneous array
// elements are unioned into one representative element shape: object
// members merge key sets, and conflicting scalar tags widen to mixed.
func Shape(v domain.Value) Node {
	switch v.Kind {
	case domain.TypeObject:
		fields := make([]Field, 0, len(v.Fields))
		for k, child := range v.Fields {
			fields = append(fields, Field{Key: k, Shape: Shape(child)})
		}
		sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
		return Node{Tag: domain.TypeObject, Fields: fields}
	case domain.TypeArray:
		var elem *Node
		for _, item := range v.Items {
			s := Shape(item)
			if elem == nil {
				elem = &s
			} else {
				merged := Union(*elem, s)
				elem = &merged
			}
		}
		return Node{Tag: domain.TypeArray, Elem: elem}
	default:
		return Node{Tag: v.Kind}
	}
}

// Union merges two shapes into one representative shape. Matching scalars
// stay as-is, objects union their key sets recursively, arrays union their
// element shapes, and anything else widens to mixed.
func Union(a, b Node) Node {
	switch {
	case a.Tag == domain.TypeObject && b.Tag == domain.TypeObject:
		return Node{Tag: domain.TypeObject, Fields: unionFields(a.Fields, b.Fields)}
	case a.Tag == domain.TypeArray && b.Tag == domain.TypeArray:
		switch {
		case a.Elem == nil:
			return b
		case b.Elem == nil:
			return a
		default:
			merged := Union(*a.Elem, *b.Elem)
			return Node{Tag: domain.TypeArray, Elem: &merged}
		}
	case a.Tag == b.Tag:
		return a
	default:
		return Node{Tag: domain.TypeMixed}
	}
}

func unionFields(a, b []Field) []Field {
	out := make([]Field, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Key < b[j].Key:
			out = append(out, a[i])
			i++
		case a[i].Key > b[j].Key:
			out = append(out, b[j])
			j++
		default:
			out = append(out, Field{Key: a[i].Key, Shape: Union(a[i].Shape, b[j].Shape)})
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// writeShape serializes a shape with stable ordering. Keys are quoted so a
// key containing delimiter characters cannot collide with a different key
// set that serializes to the same bytes.
func writeShape(b *strings.Builder, n Node) {
	switch n.Tag {
	case domain.TypeObject:
		b.WriteByte('{')
		for i, f := range n.Fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(f.Key))
			b.WriteByte(':')
			writeShape(b, f.Shape)
		}
		b.WriteByte('}')
	case domain.TypeArray:
		b.WriteByte('[')
		if n.Elem != nil {
			writeShape(b, *n.Elem)
		}
		b.WriteByte(']')
	default:
		b.WriteString(string(n.Tag))
	}
}
