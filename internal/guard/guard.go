package guard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DefaultMaxDepth bounds container nesting.
const DefaultMaxDepth = 32

// Match describes the first suspicious value found.
type Match struct {
	Field   string `json:"field"`
	Vector  Vector `json:"vector"`
	Pattern string `json:"pattern"`
}

// Guard is a stateless payload scanner. Safe for concurrent use.
type Guard struct {
	maxDepth int
}

// New creates a Guard. maxDepth <= 0 uses DefaultMaxDepth.
func New(maxDepth int) *Guard {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Guard{maxDepth: maxDepth}
}

// MaxDepth returns the nesting limit.
func (g *Guard) MaxDepth() int { return g.maxDepth }

// ScanJSON parses data and scans it. A body that is not valid JSON returns
// an error and no match.
func (g *Guard) ScanJSON(data []byte) (*Match, error) {
	v, err := Parse(data, g.maxDepth)
	if err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	return g.ScanValue(v), nil
}

// Scan scans an arbitrary Go value through its JSON encoding. Map keys are
// therefore visited in sorted order and struct fields in declaration order.
func (g *Guard) Scan(v any) (*Match, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return g.ScanJSON(data)
}

// ScanValue walks v depth first and returns the first match, or nil.
func (g *Guard) ScanValue(v Value) *Match {
	return g.walk(v, nil, 0)
}

func (g *Guard) walk(v Value, path []string, depth int) *Match {
	switch v.Kind {
	case KindString:
		if sg, ok := match(v.Str); ok {
			return &Match{Field: pathString(path), Vector: sg.vector, Pattern: sg.re.String()}
		}
	case KindTruncated:
		return g.tooDeep(path)
	case KindArray, KindObject:
		if depth >= g.maxDepth {
			return g.tooDeep(path)
		}
		if v.Kind == KindArray {
			for i, item := range v.Items {
				if m := g.walk(item, append(path, indexKey(i)), depth+1); m != nil {
					return m
				}
			}
			return nil
		}
		for _, f := range v.Fields {
			if m := g.walk(f.Value, append(path, f.Key), depth+1); m != nil {
				return m
			}
		}
	case KindNull, KindNumber, KindBool:
	}
	return nil
}

func (g *Guard) tooDeep(path []string) *Match {
	return &Match{
		Field:   pathString(path),
		Vector:  VectorDepth,
		Pattern: "max depth " + strconv.Itoa(g.maxDepth),
	}
}
