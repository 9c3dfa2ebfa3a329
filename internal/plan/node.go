package plan

import (
	"github.com/hanpama/legend/internal/graphfetch"
	"github.com/hanpama/legend/internal/nativecode"
)

// Node is one step of an execution plan. Built-in kinds are the structs in
// this file; plugins add kinds by implementing Node and registering a decoder.
type Node interface {
	// NodeType returns the _type tag of the node.
	NodeType() string
}

// StoreNode is a node executed by the store registered for StoreType.
type StoreNode interface {
	Node
	StoreType() string
}

const (
	TypeConstant            = "constant"
	TypeError               = "error"
	TypeSequence            = "sequence"
	TypeMultiResultSequence = "multiResultSequence"
	TypeAllocation          = "allocation"
	TypeConditional         = "conditional"
	TypeParameterValidation = "functionParametersValidation"
	TypePlatform            = "platform"
	TypeGraphFetch          = "graphFetch"
	TypeLocalGraphFetch     = "localGraphFetch"
	TypeGlobalGraphFetch    = "globalGraphFetch"
	TypeRelational          = "relational"
	TypeInMemory            = "inMemory"
	TypeService             = "service"
)

type ConstantNode struct {
	Values ValueSpecification
}

// ErrorNode produces an error result. Child, when set, supplies the payload.
type ErrorNode struct {
	Message string
	Child   Node
}

type SequenceNode struct {
	Children []Node
}

type MultiResultSequenceNode struct {
	Children []Node
}

// AllocationNode binds the result of Child to VarName.
type AllocationNode struct {
	VarName string
	Child   Node
}

// ConditionalNode renders Expression against the bindings and runs TrueBlock
// when it yields "true". FalseBlock is optional.
type ConditionalNode struct {
	Expression string
	TrueBlock  Node
	FalseBlock Node
}

// EnumValidationContext lists the values accepted for an enum typed
// parameter.
type EnumValidationContext struct {
	VarName         string   `json:"varName"`
	ValidEnumValues []string `json:"validEnumValues"`
}

type FunctionParametersValidationNode struct {
	Parameters []Variable
	Enums      []EnumValidationContext
}

// PlatformImplementation names the generated unit run by a platform or graph
// fetch node and carries its sources.
type PlatformImplementation struct {
	ClassName  string              `json:"executionClassFullName"`
	MethodName string              `json:"executionMethodName,omitempty"`
	Units      []nativecode.Source `json:"codeUnits,omitempty"`
}

// Method returns the method to invoke, "execute" when unset.
func (p *PlatformImplementation) Method() string {
	if p.MethodName == "" {
		return "execute"
	}
	return p.MethodName
}

// PlatformNode runs generated native code.
type PlatformNode struct {
	Implementation *PlatformImplementation
	Child          Node
}

// GraphFetchNode assembles an object graph. Root produces the root objects as
// a stream; Local materializes one batch of them and Children are cross-store
// properties joined to the batch.
type GraphFetchNode struct {
	Root            Node
	Local           *LocalGraphFetchNode
	Children        []*GlobalGraphFetchNode
	BatchSize       int
	Implementation  *PlatformImplementation
	Tree            *graphfetch.Tree
	ResultSizeRange *Multiplicity
}

// LocalGraphFetchNode materializes objects of one store for the current
// batch and registers them under NodeIndex.
type LocalGraphFetchNode struct {
	NodeIndex int
	Tree      *graphfetch.Tree
}

// GlobalGraphFetchNode is a cross-store child. Source fetches the child
// objects for the distinct parent keys bound to ParentsVariable; the results
// are joined to the parents registered under ParentIndex.
type GlobalGraphFetchNode struct {
	ParentIndex     int
	Property        string
	ToMany          bool
	ParentKeys      []string
	ChildKeys       []string
	ParentsVariable string
	Source          Node
	Local           *LocalGraphFetchNode
	Children        []*GlobalGraphFetchNode
}

// Variable returns the name parent keys are bound to, "parents" when unset.
func (n *GlobalGraphFetchNode) Variable() string {
	if n.ParentsVariable == "" {
		return "parents"
	}
	return n.ParentsVariable
}

// RelationalNode runs an SQL template against a named connection.
type RelationalNode struct {
	Connection string
	SQL        string
	Columns    []string
}

// InMemoryNode reads objects of a named dataset or inline values. Filter is
// an optional predicate over `this` and the bindings.
type InMemoryNode struct {
	Dataset string
	Values  []any
	Class   string
	Filter  string
}

// ServiceNode calls a remote service method with the named parameters.
type ServiceNode struct {
	Service    string
	Method     string
	Parameters []string
}

func (*ConstantNode) NodeType() string                     { return TypeConstant }
func (*ErrorNode) NodeType() string                        { return TypeError }
func (*SequenceNode) NodeType() string                     { return TypeSequence }
func (*MultiResultSequenceNode) NodeType() string          { return TypeMultiResultSequence }
func (*AllocationNode) NodeType() string                   { return TypeAllocation }
func (*ConditionalNode) NodeType() string                  { return TypeConditional }
func (*FunctionParametersValidationNode) NodeType() string { return TypeParameterValidation }
func (*PlatformNode) NodeType() string                     { return TypePlatform }
func (*GraphFetchNode) NodeType() string                   { return TypeGraphFetch }
func (*LocalGraphFetchNode) NodeType() string              { return TypeLocalGraphFetch }
func (*GlobalGraphFetchNode) NodeType() string             { return TypeGlobalGraphFetch }
func (*RelationalNode) NodeType() string                   { return TypeRelational }
func (*InMemoryNode) NodeType() string                     { return TypeInMemory }
func (*ServiceNode) NodeType() string                      { return TypeService }

func (*RelationalNode) StoreType() string { return TypeRelational }
func (*InMemoryNode) StoreType() string   { return TypeInMemory }
func (*ServiceNode) StoreType() string    { return TypeService }

// Const is a convenience constructor for a constant node.
func Const(v any) *ConstantNode { return &ConstantNode{Values: Literal{Value: v}} }

// Children returns the direct child nodes of n.
func Children(n Node) []Node {
	var out []Node
	add := func(c Node) {
		if c != nil {
			out = append(out, c)
		}
	}
	switch v := n.(type) {
	case *ErrorNode:
		add(v.Child)
	case *SequenceNode:
		out = append(out, v.Children...)
	case *MultiResultSequenceNode:
		out = append(out, v.Children...)
	case *AllocationNode:
		add(v.Child)
	case *ConditionalNode:
		add(v.TrueBlock)
		add(v.FalseBlock)
	case *PlatformNode:
		add(v.Child)
	case *GraphFetchNode:
		add(v.Root)
		if v.Local != nil {
			add(v.Local)
		}
		for _, c := range v.Children {
			add(c)
		}
	case *GlobalGraphFetchNode:
		add(v.Source)
		if v.Local != nil {
			add(v.Local)
		}
		for _, c := range v.Children {
			add(c)
		}
	}
	return out
}

// Walk calls fn for n and each of its descendants in depth-first order.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}
