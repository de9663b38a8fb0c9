package guard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind is the shape of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject

	// KindTruncated marks a subtree that exceeded the depth limit while
	// parsing. Its contents were skipped.
	KindTruncated
)

// Value is a generic JSON tree. Objects keep their fields in document order.
type Value struct {
	Kind   Kind
	Str    string // KindString, or the literal text of a KindNumber
	Bool   bool
	Items  []Value
	Fields []Field
}

// Field is one member of an object.
type Field struct {
	Key   string
	Value Value
}

// String builds a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Array builds an array Value.
func Array(items ...Value) Value { return Value{Kind: KindArray, Items: items} }

// Object builds an object Value with fields in the given order.
func Object(fields ...Field) Value { return Value{Kind: KindObject, Fields: fields} }

var errTrailingData = errors.New("unexpected data after top-level value")

// Parse decodes one JSON document. Containers nested deeper than maxDepth
// are replaced by a KindTruncated node and their contents skipped, so
// memory and recursion stay bounded for any input.
func Parse(data []byte, maxDepth int) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec, 0, maxDepth)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errTrailingData
	}
	return v, nil
}

func parseValue(dec *json.Decoder, depth, maxDepth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("reading token: %w", err)
	}

	switch t := tok.(type) {
	case nil:
		return Value{Kind: KindNull}, nil
	case string:
		return String(t), nil
	case json.Number:
		return Value{Kind: KindNumber, Str: t.String()}, nil
	case bool:
		return Value{Kind: KindBool, Bool: t}, nil
	case json.Delim:
		if depth >= maxDepth {
			if err := skipContainer(dec); err != nil {
				return Value{}, err
			}
			return Value{Kind: KindTruncated}, nil
		}
		if t == '[' {
			return parseArray(dec, depth, maxDepth)
		}
		return parseObject(dec, depth, maxDepth)
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

func parseArray(dec *json.Decoder, depth, maxDepth int) (Value, error) {
	v := Value{Kind: KindArray}
	for dec.More() {
		item, err := parseValue(dec, depth+1, maxDepth)
		if err != nil {
			return Value{}, err
		}
		v.Items = append(v.Items, item)
	}
	if _, err := dec.Token(); err != nil { // ]
		return Value{}, fmt.Errorf("closing array: %w", err)
	}
	return v, nil
}

func parseObject(dec *json.Decoder, depth, maxDepth int) (Value, error) {
	v := Value{Kind: KindObject}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("reading key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("object key is %T, not string", tok)
		}
		item, err := parseValue(dec, depth+1, maxDepth)
		if err != nil {
			return Value{}, err
		}
		v.Fields = append(v.Fields, Field{Key: key, Value: item})
	}
	if _, err := dec.Token(); err != nil { // }
		return Value{}, fmt.Errorf("closing object: %w", err)
	}
	return v, nil
}

// skipContainer consumes tokens until the container just opened is closed.
// It counts nesting instead of recursing.
func skipContainer(dec *json.Decoder) error {
	for open := 1; open > 0; {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("skipping nested value: %w", err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '[', '{':
				open++
			case ']', '}':
				open--
			}
		}
	}
	return nil
}

// pathString joins a field path with dots. An empty path is "payload".
func pathString(path []string) string {
	if len(path) == 0 {
		return "payload"
	}
	return strings.Join(path, ".")
}

func indexKey(i int) string { return strconv.Itoa(i) }
