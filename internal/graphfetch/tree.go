// Package graphfetch models graph fetch trees: the class and nested
// properties requested from a graph fetch.
package graphfetch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tree is the root of a graph fetch tree.
type Tree struct {
	Class      string
	Properties []*PropertyTree
}

// PropertyTree selects a property and, for object valued properties, the
// properties fetched from it.
type PropertyTree struct {
	Property   string
	Alias      string
	Properties []*PropertyTree
}

// Key returns the name the property appears under in fetched objects.
func (p *PropertyTree) Key() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Property
}

// Property returns the top level property tree named name.
func (t *Tree) Property(name string) *PropertyTree {
	if t == nil {
		return nil
	}
	for _, p := range t.Properties {
		if p.Property == name {
			return p
		}
	}
	return nil
}

// String renders the tree in selection syntax.
func (t *Tree) String() string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(t.Class)
	writeSelection(&b, t.Properties)
	return b.String()
}

func writeSelection(b *strings.Builder, props []*PropertyTree) {
	if len(props) == 0 {
		return
	}
	b.WriteString(" {")
	for _, p := range props {
		b.WriteByte(' ')
		if p.Alias != "" {
			b.WriteString(p.Alias)
			b.WriteString(": ")
		}
		b.WriteString(p.Property)
		writeSelection(b, p.Properties)
	}
	b.WriteString(" }")
}

type treeWire struct {
	Type     string      `json:"_type,omitempty"`
	Class    string      `json:"class,omitempty"`
	Property string      `json:"property,omitempty"`
	Alias    string      `json:"alias,omitempty"`
	SubTrees []*treeWire `json:"subTrees,omitempty"`
}

// UnmarshalJSON accepts the protocol object form or a selection string.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var src string
	if err := json.Unmarshal(data, &src); err == nil {
		parsed, err := Parse(src)
		if err != nil {
			return err
		}
		*t = *parsed
		return nil
	}
	var w treeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Class == "" {
		return fmt.Errorf("graph fetch tree: missing class")
	}
	t.Class = w.Class
	t.Properties = fromWire(w.SubTrees)
	return nil
}

// MarshalJSON writes the protocol object form.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(&treeWire{Type: "rootGraphFetchTree", Class: t.Class, SubTrees: toWire(t.Properties)})
}

func fromWire(ws []*treeWire) []*PropertyTree {
	out := make([]*PropertyTree, 0, len(ws))
	for _, w := range ws {
		out = append(out, &PropertyTree{Property: w.Property, Alias: w.Alias, Properties: fromWire(w.SubTrees)})
	}
	return out
}

func toWire(ps []*PropertyTree) []*treeWire {
	if len(ps) == 0 {
		return nil
	}
	out := make([]*treeWire, 0, len(ps))
	for _, p := range ps {
		out = append(out, &treeWire{Type: "propertyGraphFetchTree", Property: p.Property, Alias: p.Alias, SubTrees: toWire(p.Properties)})
	}
	return out
}
