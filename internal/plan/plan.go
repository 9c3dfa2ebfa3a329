// Package plan holds the execution plan model: the node tree, declared
// variables, value specifications and the JSON decoder.
package plan

import "github.com/hanpama/legend/internal/nativecode"

// SingleExecutionPlan is a decoded plan ready for execution.
type SingleExecutionPlan struct {
	Root Node
	// Units are the plan-level generated sources shared by every platform
	// node of the plan.
	Units             []nativecode.Source
	TemplateFunctions []string
}

// Parameters returns the parameters declared by the validation nodes of the
// plan, in declaration order.
func (p *SingleExecutionPlan) Parameters() []Variable {
	var out []Variable
	seen := map[string]bool{}
	Walk(p.Root, func(n Node) {
		v, ok := n.(*FunctionParametersValidationNode)
		if !ok {
			return
		}
		for _, param := range v.Parameters {
			if !seen[param.Name] {
				seen[param.Name] = true
				out = append(out, param)
			}
		}
	})
	return out
}

// Sources returns the plan-level sources followed by the sources carried by
// platform implementations in the tree.
func (p *SingleExecutionPlan) Sources() []nativecode.Source {
	out := append([]nativecode.Source(nil), p.Units...)
	Walk(p.Root, func(n Node) {
		var impl *PlatformImplementation
		switch v := n.(type) {
		case *PlatformNode:
			impl = v.Implementation
		case *GraphFetchNode:
			impl = v.Implementation
		}
		if impl != nil {
			out = append(out, impl.Units...)
		}
	})
	return out
}
