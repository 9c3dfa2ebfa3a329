package templating

import (
	"slices"
	"text/template/parse"
)

// Refs are the top-level data keys a template may read.
type Refs struct {
	Names []string
	// All is set when the template hands the whole data map to a function
	// or reads "$" directly, so every key may be read.
	All bool
}

// Has reports whether name may be read.
func (r Refs) Has(name string) bool { return r.All || slices.Contains(r.Names, name) }

// References parses text with functions and returns the data keys it refers
// to. Fields read inside range and with blocks are included, so the result
// may name more keys than are read at top level.
func (e *Engine) References(text string, functions []string) (Refs, error) {
	t, err := e.parse(text, functions)
	if err != nil {
		return Refs{}, err
	}
	w := &refWalker{seen: map[string]bool{}}
	for _, tt := range t.Templates() {
		if tt.Tree != nil {
			w.node(tt.Tree.Root, false)
		}
	}
	slices.Sort(w.refs.Names)
	return w.refs, nil
}

type refWalker struct {
	refs Refs
	seen map[string]bool
}

func (w *refWalker) add(name string) {
	if !w.seen[name] {
		w.seen[name] = true
		w.refs.Names = append(w.refs.Names, name)
	}
}

// node walks n. nested is set below range and with, where dot is no longer
// the data map.
func (w *refWalker) node(n parse.Node, nested bool) {
	switch n := n.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			w.node(c, nested)
		}
	case *parse.ActionNode:
		w.pipe(n.Pipe, nested)
	case *parse.IfNode:
		w.branch(&n.BranchNode, nested, nested)
	case *parse.RangeNode:
		w.branch(&n.BranchNode, nested, true)
	case *parse.WithNode:
		w.branch(&n.BranchNode, nested, true)
	case *parse.TemplateNode:
		// The called template is walked on its own.
		if n.Pipe != nil {
			w.pipe(n.Pipe, true)
		}
	}
}

func (w *refWalker) branch(b *parse.BranchNode, nested, body bool) {
	w.pipe(b.Pipe, nested)
	w.node(b.List, body)
	w.node(b.ElseList, nested)
}

func (w *refWalker) pipe(p *parse.PipeNode, nested bool) {
	if p == nil {
		return
	}
	for _, cmd := range p.Cmds {
		for _, arg := range cmd.Args {
			w.arg(arg, nested)
		}
	}
}

func (w *refWalker) arg(n parse.Node, nested bool) {
	switch n := n.(type) {
	case *parse.FieldNode:
		w.add(n.Ident[0])
	case *parse.VariableNode:
		if n.Ident[0] != "$" {
			return
		}
		if len(n.Ident) == 1 {
			w.refs.All = true
			return
		}
		w.add(n.Ident[1])
	case *parse.DotNode:
		if !nested {
			w.refs.All = true
		}
	case *parse.ChainNode:
		w.arg(n.Node, nested)
	case *parse.PipeNode:
		w.pipe(n, nested)
	}
}
