package graphfetch

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Parse reads a tree written in selection syntax:
//
//	Person { name firm { legalName } }
//
// The source may be wrapped in braces like a GraphQL query. Arguments and
// directives are rejected; aliases rename a property in fetched objects.
func Parse(source string) (*Tree, error) {
	src := strings.TrimSpace(source)
	if !strings.HasPrefix(src, "{") {
		src = "{ " + src + " }"
	}
	doc, err := parser.ParseQuery(&ast.Source{Input: src})
	if err != nil {
		return nil, fmt.Errorf("graph fetch tree: %w", err)
	}
	if len(doc.Operations) != 1 || len(doc.Fragments) > 0 {
		return nil, fmt.Errorf("graph fetch tree: expected a single selection")
	}
	sel := doc.Operations[0].SelectionSet
	if len(sel) != 1 {
		return nil, fmt.Errorf("graph fetch tree: expected exactly one root class, got %d", len(sel))
	}
	root, ok := sel[0].(*ast.Field)
	if !ok {
		return nil, fmt.Errorf("graph fetch tree: fragments are not supported")
	}
	if root.Alias != "" && root.Alias != root.Name {
		return nil, fmt.Errorf("graph fetch tree: root class cannot be aliased")
	}
	props, err := properties(root.SelectionSet)
	if err != nil {
		return nil, err
	}
	return &Tree{Class: root.Name, Properties: props}, nil
}

func properties(sel ast.SelectionSet) ([]*PropertyTree, error) {
	out := make([]*PropertyTree, 0, len(sel))
	for _, s := range sel {
		f, ok := s.(*ast.Field)
		if !ok {
			return nil, fmt.Errorf("graph fetch tree: fragments are not supported")
		}
		if len(f.Arguments) > 0 || len(f.Directives) > 0 {
			return nil, fmt.Errorf("graph fetch tree: property %q: arguments and directives are not supported", f.Name)
		}
		sub, err := properties(f.SelectionSet)
		if err != nil {
			return nil, err
		}
		p := &PropertyTree{Property: f.Name, Properties: sub}
		if f.Alias != "" && f.Alias != f.Name {
			p.Alias = f.Alias
		}
		out = append(out, p)
	}
	return out, nil
}
