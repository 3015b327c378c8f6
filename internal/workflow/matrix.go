package workflow

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Matrix declares the axes of a job's build matrix plus include/exclude
// adjustments. Axis declaration order is preserved so expansion is
// deterministic: a file listing four version identifiers always produces
// the same four cells in the same order.
type Matrix struct {
	// Axes holds the named axes in declaration order.
	Axes []Axis

	// Include appends or extends cells after expansion.
	Include []Cell

	// Exclude removes cells whose values match every key of an entry.
	Exclude []Cell
}

// Axis is a single matrix dimension.
type Axis struct {
	// Name is the axis key ("python", "go", "os").
	Name string

	// Values are the raw scalar texts in declaration order. Numbers
	// keep the exact spelling from the file ("3.10" stays "3.10").
	Values []string
}

// Cell is one combination of matrix values, keyed by axis name.
type Cell map[string]string

// clone returns a copy of the cell. The zero-length copy of a nil cell
// is an empty, writable map.
func (c Cell) clone() Cell {
	out := make(Cell, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Label renders the cell for display, e.g. "3.8" or "3.8, ubuntu".
// Values appear in axis declaration order, followed by any include-only
// keys in sorted order. An empty cell renders as the empty string.
func (c Cell) Label(axisOrder []string) string {
	if len(c) == 0 {
		return ""
	}

	var parts []string
	seen := make(map[string]bool, len(c))
	for _, name := range axisOrder {
		if v, ok := c[name]; ok {
			parts = append(parts, v)
			seen[name] = true
		}
	}

	var extras []string
	for k := range c {
		if !seen[k] {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		parts = append(parts, c[k])
	}

	return strings.Join(parts, ", ")
}

// AxisNames returns the axis keys in declaration order.
func (m *Matrix) AxisNames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, len(m.Axes))
	for i, a := range m.Axes {
		names[i] = a.Name
	}
	return names
}

// UnmarshalYAML decodes the matrix mapping by walking nodes directly:
// axis values must keep the exact scalar text from the file, which
// struct-tag decoding into typed fields would not preserve.
func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix must be a mapping, got %s", kindName(node.Kind))
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		switch key {
		case "include":
			combos, err := decodeCombos(val)
			if err != nil {
				return fmt.Errorf("matrix include: %w", err)
			}
			m.Include = combos

		case "exclude":
			combos, err := decodeCombos(val)
			if err != nil {
				return fmt.Errorf("matrix exclude: %w", err)
			}
			m.Exclude = combos

		default:
			values, err := decodeAxisValues(val)
			if err != nil {
				return fmt.Errorf("matrix axis %q: %w", key, err)
			}
			m.Axes = append(m.Axes, Axis{Name: key, Values: values})
		}
	}

	return nil
}

// decodeAxisValues reads a sequence of scalars as raw text.
func decodeAxisValues(node *yaml.Node) ([]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("axis values must be a list, got %s", kindName(node.Kind))
	}
	values := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("axis values must be scalars, got %s", kindName(item.Kind))
		}
		values = append(values, item.Value)
	}
	return values, nil
}

// decodeCombos reads a sequence of flat mappings as cells.
func decodeCombos(node *yaml.Node) ([]Cell, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("must be a list of mappings, got %s", kindName(node.Kind))
	}

	combos := make([]Cell, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("entries must be mappings, got %s", kindName(item.Kind))
		}
		cell := make(Cell, len(item.Content)/2)
		for i := 0; i+1 < len(item.Content); i += 2 {
			k := item.Content[i].Value
			v := item.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("entry value for %q must be a scalar, got %s", k, kindName(v.Kind))
			}
			cell[k] = v.Value
		}
		combos = append(combos, cell)
	}
	return combos, nil
}

// Expand computes the matrix cells: the cartesian product of the axes in
// declaration order, with exclude entries removed and include entries
// merged in.
//
// Exclude removes every cell whose values match all keys of the entry.
// Include entries whose keys overlap an existing cell and agree on all
// overlapping values extend those cells with their extra keys; entries
// matching no cell are appended as standalone cells.
//
// A nil matrix, or one with no axes and no includes, expands to a single
// empty cell: a job without a matrix still runs exactly once.
func (m *Matrix) Expand() []Cell {
	if m == nil {
		return []Cell{{}}
	}

	// An include-only matrix builds its cells purely from the include
	// list; the seed cell exists only to be multiplied by axes.
	if len(m.Axes) == 0 && len(m.Include) > 0 {
		cells := make([]Cell, 0, len(m.Include))
		for _, inc := range m.Include {
			cells = append(cells, inc.clone())
		}
		return cells
	}

	cells := []Cell{{}}
	for _, axis := range m.Axes {
		next := make([]Cell, 0, len(cells)*len(axis.Values))
		for _, c := range cells {
			for _, v := range axis.Values {
				nc := c.clone()
				nc[axis.Name] = v
				next = append(next, nc)
			}
		}
		cells = next
	}

	if len(m.Exclude) > 0 {
		kept := cells[:0]
		for _, c := range cells {
			if !matchesAnyCombo(c, m.Exclude) {
				kept = append(kept, c)
			}
		}
		cells = kept
	}

	for _, inc := range m.Include {
		extended := false
		for _, c := range cells {
			if overlapsAndAgrees(c, inc) {
				for k, v := range inc {
					if _, exists := c[k]; !exists {
						c[k] = v
					}
				}
				extended = true
			}
		}
		if !extended {
			cells = append(cells, inc.clone())
		}
	}

	return cells
}

// matchesAnyCombo reports whether the cell matches at least one of the
// combos: every key of the combo is present in the cell with an equal
// value.
func matchesAnyCombo(c Cell, combos []Cell) bool {
	for _, combo := range combos {
		if len(combo) == 0 {
			continue
		}
		all := true
		for k, v := range combo {
			if c[k] != v {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// overlapsAndAgrees reports whether the include entry shares at least
// one key with the cell and every shared key has an equal value.
func overlapsAndAgrees(c Cell, inc Cell) bool {
	shared := 0
	for k, v := range inc {
		cv, ok := c[k]
		if !ok {
			continue
		}
		if cv != v {
			return false
		}
		shared++
	}
	return shared > 0
}
