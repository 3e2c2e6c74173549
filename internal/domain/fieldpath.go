package domain

import "strings"

// Field path syntax: "$" is the payload root, object members append ".key",
// and array elements fold into a single "[]" wildcard segment, e.g.
// "$.licenses[].state". One path therefore addresses every element of an
// array uniformly. Keys containing path metacharacters are backslash-escaped
// so a discovered path always resolves against the payload it came from.

// PathRoot is the field path of the payload root.
const PathRoot = "$"

// DynamicMapKey is the synthetic segment that absorbs object members once a
// source exceeds its distinct-path ceiling (caller-controlled map keys).
const DynamicMapKey = "<dynamic-map>"

// pathMeta are the characters EscapeKey protects inside a key segment.
const pathMeta = `.[]\`

// EscapeKey backslash-escapes path metacharacters so key can be embedded in
// a path segment. Keys without metacharacters pass through unchanged.
func EscapeKey(key string) string {
	if !strings.ContainsAny(key, pathMeta) {
		return key
	}
	var b strings.Builder
	b.Grow(len(key) + 2)
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(pathMeta, key[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(key[i])
	}
	return b.String()
}

// ChildPath returns the path of an object member under parent.
func ChildPath(parent, key string) string {
	return parent + "." + EscapeKey(key)
}

// ElementPath returns the folded wildcard path of an array's elements.
func ElementPath(parent string) string {
	return parent + "[]"
}

// ParentPath returns the path one segment above p, or PathRoot when p has no
// parent. The wildcard suffix counts as its own segment.
func ParentPath(p string) string {
	if p == PathRoot || p == "" {
		return PathRoot
	}
	// An escaped bracket serializes as "\[\]", so a bare "[]" suffix is
	// always the wildcard.
	if strings.HasSuffix(p, "[]") {
		return p[:len(p)-2]
	}
	for i := len(p) - 1; i > 0; i-- {
		if p[i] != '.' {
			continue
		}
		if !escapedAt(p, i) {
			return p[:i]
		}
	}
	return PathRoot
}

// escapedAt reports whether the character at index i sits behind an odd run
// of backslashes.
func escapedAt(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// LookupPath returns every value addressed by path within the payload tree.
// Array wildcards expand to all elements, so one path may address several
// values in a single record. A missing path yields an empty slice.
func LookupPath(v Value, path string) []Value {
	if path == "" || path == PathRoot {
		return []Value{v}
	}
	if !strings.HasPrefix(path, PathRoot) {
		return nil
	}
	return lookup([]Value{v}, path[len(PathRoot):])
}

func lookup(current []Value, rest string) []Value {
	for rest != "" {
		var key string
		switch {
		case strings.HasPrefix(rest, "[]"):
			rest = rest[2:]
			var next []Value
			for _, v := range current {
				if v.Kind == TypeArray {
					next = append(next, v.Items...)
				}
			}
			current = next
			continue
		case strings.HasPrefix(rest, "."):
			key, rest = readKey(rest[1:])
		default:
			return nil
		}

		var next []Value
		for _, v := range current {
			if v.Kind != TypeObject {
				continue
			}
			if child, ok := v.Fields[key]; ok {
				next = append(next, child)
			}
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

// readKey consumes one key segment, resolving backslash escapes. The segment
// ends at an unescaped dot or at an unescaped "[]" wildcard.
func readKey(s string) (key, rest string) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			b.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == '.' || (c == '[' && strings.HasPrefix(s[i:], "[]")) {
			break
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), s[i:]
}
